package bbdl_test

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gonzalop/bbdl"
)

// ExampleNewFromConfig demonstrates building a client from a YAML file
// whose credentials come from the environment.
func ExampleNewFromConfig() {
	// bbdl.yaml:
	//
	//	bbg:
	//	  data:
	//	    ftp:
	//	      hostname: sftp.bloomberg.com
	//	      username: ${BBDL_USERNAME}
	//	      password: ${BBDL_PASSWORD}
	//	      remotedir: /
	//	      secure: true
	//	      knownhosts: ${HOME}/.ssh/known_hosts
	cfg, err := bbdl.LoadConfig("bbdl.yaml")
	if err != nil {
		log.Fatal(err)
	}
	cfg.Lock()

	client, err := bbdl.NewFromConfig(cfg, "bbg.data.ftp")
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	res, err := client.Request(context.Background(),
		[]string{"IBM US Equity", "88160RAG6 Corp"},
		[]string{"ID_BB_GLOBAL", "PARSEKYABLE_DES", "PX_LAST"},
		[]string{"Security Master", "End of Day Pricing"},
	)
	if err != nil {
		log.Fatal(err)
	}
	for _, rec := range res.Data {
		fmt.Println(rec.Identifier(), rec["PX_LAST"])
	}
	for _, e := range res.Errors {
		fmt.Println(e)
	}
}

// ExampleClient_Request_history demonstrates a gethistory request.
func ExampleClient_Request_history() {
	s := bbdl.DefaultSettings()
	s.Username, s.Password = "dl000000", os.Getenv("BBDL_PASSWORD")
	s.KnownHosts = os.ExpandEnv("$HOME/.ssh/known_hosts")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	client, err := bbdl.New(s, bbdl.WithLogger(logger), bbdl.WithWaitTime(30*time.Minute))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	beg := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	res, err := client.Request(context.Background(),
		[]string{"IBM US Equity"},
		[]string{"PX_LAST", "PX_VOLUME"},
		[]string{"End of Day Pricing"},
		bbdl.WithDateRange(beg, end),
	)
	if err != nil {
		log.Fatal(err)
	}
	for _, rec := range res.Data {
		dates, _ := rec[bbdl.FieldDate].([]any)
		prices, _ := rec["PX_LAST"].([]any)
		for i := range dates {
			fmt.Println(dates[i], prices[i])
		}
	}
}

func ExampleFixCase() {
	fmt.Println(bbdl.FixCase("IBM Us Equity"))
	fmt.Println(bbdl.FixCase("01234abc89 Us EQUITY"))
	fmt.Println(bbdl.FixCase(bbdl.FixCase("vod ln equity")))
	// Output:
	// IBM US Equity
	// 01234ABC89 US Equity
	// VOD LN Equity
}

func ExampleBuildRequest() {
	s := bbdl.DefaultSettings()
	s.Username = "dl000000"
	ids := []bbdl.Identifier{
		bbdl.Ticker("IBM US Equity"),
		{Value: "88160RAG6", Type: "CUSIP"},
	}

	var b strings.Builder
	if err := bbdl.BuildRequest(&b, s, ids, []string{"PX_LAST"}, bbdl.RequestOptions{}); err != nil {
		log.Fatal(err)
	}
	fmt.Print(b.String())
	// Output:
	// START-OF-FILE
	// FIRMNAME=dl000000
	// PROGRAMFLAG=adhoc
	// DELIMITER=|
	// ADJUSTED=yes
	// DATEFORMAT=yyyymmdd
	// SECMASTER=yes
	// CLOSINGVALUES=yes
	// DERIVED=yes
	//
	// START-OF-FIELDS
	// PX_LAST
	// END-OF-FIELDS
	//
	// START-OF-DATA
	// IBM US Equity
	// 88160RAG6|CUSIP
	// END-OF-DATA
	//
	// END-OF-FILE
}

func ExampleParseReply() {
	reply := `START-OF-FILE
DELIMITER=|
START-OF-FIELDS
PX_LAST
END-OF-FIELDS
START-OF-DATA
IBM US Equity|0|1|181.72|
NOPE US Equity|10|1| |
END-OF-DATA
END-OF-FILE
`
	res, err := bbdl.ParseReply(strings.NewReader(reply))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Data[0].Identifier(), res.Data[0]["PX_LAST"])
	fmt.Println(res.Errors[0])
	// Output:
	// IBM US Equity 181.72
	// bloomberg error 10 (Bloomberg cannot find the security as specified.): NOPE US Equity
}

func ExampleCatalog_FromCategories() {
	fields := bbdl.DefaultCatalog().FromCategories([]string{"Credit Risk"}, false)
	fmt.Println(len(fields) > 0)
	// Output: true
}

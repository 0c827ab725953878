// Package bbdl is a client for Bloomberg Data License, the file based
// delivery of Bloomberg reference and pricing data.
//
// # Overview
//
// A Data License request is a text file listing header options, fields and
// securities. The client uploads it to the account directory on Bloomberg's
// SFTP server, waits for Bloomberg to drop a reply file next to it,
// downloads the reply and parses it into a Result:
//   - Result.Data holds one Record per resolved security
//   - Result.Errors holds the securities Bloomberg rejected, with the
//     documented message for their return code
//   - Result.Columns lists the fields of the records with their types
//
// # Basic Usage
//
// Build a client from settings and send a request:
//
//	s := bbdl.DefaultSettings()
//	s.Username = "dl000000"
//	s.Password = os.Getenv("BBDL_PASSWORD")
//
//	client, err := bbdl.New(s)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res, err := client.Request(ctx,
//	    []string{"IBM US Equity", "88160RAG6 Corp"},
//	    []string{"ID_BB_GLOBAL", "PARSEKYABLE_DES", "PX_LAST"},
//	    []string{"Security Master", "End of Day Pricing"},
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, rec := range res.Data {
//	    fmt.Println(rec.Identifier(), rec["PX_LAST"])
//	}
//
// # Configuration
//
// Settings can be resolved from a nested configuration tree by key.
// The tree is read from YAML with ${VAR} expansion and from environment
// variables (a .env file is loaded when present), then locked:
//
//	cfg, err := bbdl.LoadConfig("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.LoadEnv(bbdl.EnvPrefix)
//	cfg.Lock()
//
//	client, err := bbdl.NewFromConfig(cfg, "bbg.data.ftp")
//
// # Field Categories
//
// Bloomberg bills by data category. Request filters the requested fields
// down to the categories given, using the embedded field catalog, so a typo
// in a field list cannot pull an unexpected category. Open fields
// (identifiers such as TICKER or ID_BB_GLOBAL) are always allowed unless
// WithoutOpenFields is given.
//
// # History Requests
//
// WithDateRange turns a request into a gethistory request. Each Record then
// holds one value per observation date for every field, with the dates in
// the DATE field.
//
// # Transports
//
// Settings.Secure selects SFTP (the production service). With Secure unset
// the client speaks FTP, or explicit FTPS with Settings.TLS, which is how it
// is tested against a local FTP server.
//
// # Error Handling
//
// Connection, timeout, validation and parse failures are returned as
// *ConnectionError, *TimeoutError, *ValidationError and *ParseError. Each
// matches a sentinel with errors.Is:
//
//	if errors.Is(err, bbdl.ErrTimeout) {
//	    // Bloomberg did not answer within Settings.WaitTime
//	}
//
// Securities Bloomberg could not resolve are not Go errors; they are
// reported in Result.Errors.
package bbdl

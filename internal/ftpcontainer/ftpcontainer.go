// Package ftpcontainer starts the garethflowers/ftp-server image for tests
// that need a real FTP server.
//
// The container publishes the control ports 20-21 and the passive range
// 40000-40009 on the same host ports, since the server advertises its
// passive ports verbatim, and bind-mounts one host directory at /data.
package ftpcontainer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/gonzalop/bbdl"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Image is the FTP server image.
const Image = "garethflowers/ftp-server"

// Passive data port range of the image.
const (
	PasvMinPort = 40000
	PasvMaxPort = 40009
)

// Config describes the container.
type Config struct {
	User string
	Pass string
	// DataDir is mounted read-write at /data. Defaults to os.TempDir().
	DataDir string
	// HostIP the ports are published on. Defaults to 127.0.0.1.
	HostIP string
	// Name of the container. Empty lets docker pick one.
	Name string
}

func (c Config) withDefaults() (Config, error) {
	if c.User == "" || c.Pass == "" {
		return c, &bbdl.ValidationError{Field: "ftp container", Reason: "user and password must be provided"}
	}
	if c.DataDir == "" {
		c.DataDir = os.TempDir()
	}
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return c, err
	}
	c.DataDir = abs
	if c.HostIP == "" {
		c.HostIP = "127.0.0.1"
	}
	return c, nil
}

// Ports returns the published container ports.
func Ports() []int {
	ports := []int{20, 21}
	for p := PasvMinPort; p <= PasvMaxPort; p++ {
		ports = append(ports, p)
	}
	return ports
}

func portBindings(hostIP string) ([]string, nat.PortMap) {
	exposed := make([]string, 0, len(Ports()))
	bindings := make(nat.PortMap)
	for _, p := range Ports() {
		port := nat.Port(strconv.Itoa(p) + "/tcp")
		exposed = append(exposed, string(port))
		bindings[port] = []nat.PortBinding{{HostIP: hostIP, HostPort: strconv.Itoa(p)}}
	}
	return exposed, bindings
}

// DockerArgs returns the docker run arguments equivalent to Start.
func DockerArgs(cfg Config) ([]string, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	args := []string{"run", "--rm", "--detach"}
	if cfg.Name != "" {
		args = append(args, "--name", cfg.Name)
	}
	args = append(args,
		"--env", "FTP_USER="+cfg.User,
		"--env", "FTP_PASS="+cfg.Pass,
		"--publish", fmt.Sprintf("%s:20-21:20-21/tcp", cfg.HostIP),
		"--publish", fmt.Sprintf("%s:%d-%d:%d-%d/tcp", cfg.HostIP, PasvMinPort, PasvMaxPort, PasvMinPort, PasvMaxPort),
		"--volume", cfg.DataDir+":/data:rw",
		Image,
	)
	return args, nil
}

// Container is a running FTP server container.
type Container struct {
	c   testcontainers.Container
	cfg Config
}

// Start pulls (if needed) and starts the container, waiting until the
// control port accepts connections.
func Start(ctx context.Context, cfg Config) (*Container, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	exposed, bindings := portBindings(cfg.HostIP)

	req := testcontainers.ContainerRequest{
		Image:        Image,
		Name:         cfg.Name,
		ExposedPorts: exposed,
		Env: map[string]string{
			"FTP_USER": cfg.User,
			"FTP_PASS": cfg.Pass,
		},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.PortBindings = bindings
			hc.Binds = append(hc.Binds, cfg.DataDir+":/data:rw")
			hc.AutoRemove = true
		},
		WaitingFor: wait.ForListeningPort("21/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", Image, err)
	}
	return &Container{c: c, cfg: cfg}, nil
}

// Settings returns client settings for the container over plain FTP, with
// the remote directory at the mounted /data root.
func (c *Container) Settings() bbdl.Settings {
	s := bbdl.DefaultSettings()
	s.Hostname = c.cfg.HostIP
	s.Port = 21
	s.Username = c.cfg.User
	s.Password = c.cfg.Pass
	s.Secure = false
	s.RemoteDir = "/"
	return s
}

// DataDir returns the host directory mounted at /data.
func (c *Container) DataDir() string { return c.cfg.DataDir }

// Terminate stops and removes the container.
func (c *Container) Terminate(ctx context.Context) error {
	return c.c.Terminate(ctx)
}

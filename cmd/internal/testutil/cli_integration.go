//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	mysqlImage       = "mysql:8.0.36"
	postgresImage    = "postgres:16-alpine"
	databaseName     = "queue"
	databaseUser     = "root"
	databasePassword = "secret"

	cliContainerImage = "alpine:3.20"
	cliContainerPath  = "/cli"
	cliExitTimeout    = 2 * time.Minute
	startupTimeout    = 2 * time.Minute
)

// DatabaseContainer is a database reachable from the host through DB and from
// containers on Network through DSN.
type DatabaseContainer struct {
	Container testcontainers.Container
	Network   *testcontainers.DockerNetwork
	DB        *sql.DB
	Driver    string
	// DSN addresses the database from containers on Network.
	DSN string
	// HostDSN addresses the database from the test process.
	HostDSN string
}

type databaseSpec struct {
	image     string
	port      nat.Port
	alias     string
	sqlDriver string
	driver    string
	env       map[string]string
	dsn       func(host, port string) string
}

// StartMySQLContainer starts MySQL on a fresh network.
func StartMySQLContainer(t *testing.T, ctx context.Context) DatabaseContainer {
	t.Helper()

	return startDatabase(t, ctx, databaseSpec{
		image:     mysqlImage,
		port:      "3306/tcp",
		alias:     "mysql",
		sqlDriver: "mysql",
		driver:    "mysql",
		env: map[string]string{
			"MYSQL_ROOT_PASSWORD": databasePassword,
			"MYSQL_DATABASE":      databaseName,
		},
		dsn: func(host, port string) string {
			return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", databaseUser, databasePassword, host, port, databaseName)
		},
	})
}

// StartPostgresContainer starts PostgreSQL on a fresh network.
func StartPostgresContainer(t *testing.T, ctx context.Context) DatabaseContainer {
	t.Helper()

	return startDatabase(t, ctx, databaseSpec{
		image:     postgresImage,
		port:      "5432/tcp",
		alias:     "postgres",
		sqlDriver: "pgx",
		driver:    "postgres",
		env: map[string]string{
			"POSTGRES_USER":     databaseUser,
			"POSTGRES_PASSWORD": databasePassword,
			"POSTGRES_DB":       databaseName,
		},
		dsn: func(host, port string) string {
			return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", databaseUser, databasePassword, host, port, databaseName)
		},
	})
}

func startDatabase(t *testing.T, ctx context.Context, spec databaseSpec) DatabaseContainer {
	t.Helper()

	net, err := network.New(ctx)
	if err != nil {
		t.Skipf("create network: %v", err)
	}
	t.Cleanup(func() {
		_ = net.Remove(ctx)
	})

	req := testcontainers.ContainerRequest{
		Image:        spec.image,
		ExposedPorts: []string{string(spec.port)},
		Env:          spec.env,
		Networks:     []string{net.Name},
		NetworkAliases: map[string][]string{
			net.Name: {spec.alias},
		},
		WaitingFor: wait.ForSQL(spec.port, spec.sqlDriver, func(host string, port nat.Port) string {
			return spec.dsn(host, port.Port())
		}).WithStartupTimeout(startupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start %s container: %v", spec.alias, err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, spec.port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	hostDSN := spec.dsn(host, mappedPort.Port())
	db, err := sql.Open(spec.sqlDriver, hostDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return DatabaseContainer{
		Container: container,
		Network:   net,
		DB:        db,
		Driver:    spec.driver,
		DSN:       spec.dsn(spec.alias, spec.port.Port()),
		HostDSN:   hostDSN,
	}
}

// BuildBinary compiles pkg for linux so it can run inside a container.
func BuildBinary(t *testing.T, pkg string) string {
	t.Helper()

	name := filepath.Base(pkg)
	if name == "." {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatalf("resolve working dir: %v", err)
		}
		name = filepath.Base(wd)
	}
	bin := filepath.Join(t.TempDir(), name)
	cmd := exec.Command("go", "build", "-o", bin, pkg)
	cmd.Env = append(os.Environ(),
		"CGO_ENABLED=0",
		"GOOS=linux",
		"GOARCH="+runtime.GOARCH,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build %s: %v\n%s", pkg, err, string(out))
	}

	return bin
}

// RunCLIContainer runs binaryPath with args on networkName and returns its exit code and logs.
func RunCLIContainer(t *testing.T, ctx context.Context, networkName, binaryPath string, args []string) (int, string) {
	t.Helper()

	return RunCLIContainerEnv(t, ctx, networkName, binaryPath, args, nil)
}

// RunCLIContainerEnv is RunCLIContainer with environment variables.
func RunCLIContainerEnv(t *testing.T, ctx context.Context, networkName, binaryPath string, args []string, env map[string]string) (int, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:      cliContainerImage,
		Entrypoint: []string{cliContainerPath},
		Cmd:        args,
		Env:        env,
		Networks:   []string{networkName},
		Files: []testcontainers.ContainerFile{
			{
				HostFilePath:      binaryPath,
				ContainerFilePath: cliContainerPath,
				FileMode:          0o755,
			},
		},
		WaitingFor: wait.ForExit().WithExitTimeout(cliExitTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start cli container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	logsReader, err := container.Logs(ctx)
	if err != nil {
		t.Fatalf("read cli logs: %v", err)
	}
	defer logsReader.Close()

	logs, err := io.ReadAll(logsReader)
	if err != nil {
		t.Fatalf("read cli logs: %v", err)
	}

	state, err := container.State(ctx)
	if err != nil {
		t.Fatalf("read cli state: %v", err)
	}

	return state.ExitCode, string(logs)
}

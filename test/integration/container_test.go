package integration

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/hl7mapper/hl7mapper/internal/platform/db"
)

const (
	profileStoreImage = "postgres:16-alpine"
	profileStoreUser  = "hl7mapper"
	profileStorePass  = "hl7mapper"
	profileStoreName  = "profiles_test"
)

// profileStoreDB is a disposable Postgres instance holding the profile
// tables for one test run.
type profileStoreDB struct {
	container string
	port      int
}

func (p *profileStoreDB) url() string {
	return fmt.Sprintf("postgres://%s:%s@127.0.0.1:%d/%s?sslmode=disable",
		profileStoreUser, profileStorePass, p.port, profileStoreName)
}

// stop removes the container. The image was started with --rm, so stopping
// is enough.
func (p *profileStoreDB) stop() {
	exec.Command("docker", "stop", "--time", "2", p.container).Run()
}

// launchProfileStore starts a profile store container and blocks until it
// answers pings, returning errNoDocker when the CLI is missing.
func launchProfileStore(ctx context.Context) (*profileStoreDB, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, errNoDocker
	}

	port, err := reservePort()
	if err != nil {
		return nil, fmt.Errorf("reserve port: %w", err)
	}

	args := []string{
		"run", "--rm", "--detach",
		"--publish", fmt.Sprintf("127.0.0.1:%d:5432", port),
		"--env", "POSTGRES_USER=" + profileStoreUser,
		"--env", "POSTGRES_PASSWORD=" + profileStorePass,
		"--env", "POSTGRES_DB=" + profileStoreName,
		"--label", "hl7mapper.integration=true",
		profileStoreImage,
	}
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("docker run %s: %w: %s", profileStoreImage, err, strings.TrimSpace(string(out)))
	}

	store := &profileStoreDB{container: strings.TrimSpace(string(out)), port: port}
	if err := store.awaitReady(ctx, 45*time.Second); err != nil {
		store.stop()
		return nil, err
	}
	return store, nil
}

// awaitReady polls with db.NewPool, which pings, until the server accepts
// queries or the limit passes.
func (p *profileStoreDB) awaitReady(ctx context.Context, limit time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	var lastErr error
	for {
		pool, err := db.NewPool(ctx, p.url(), 1, 0)
		if err == nil {
			pool.Close()
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("profile store not ready after %s: %w", limit, lastErr)
		case <-tick.C:
		}
	}
}

func reservePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return port, ln.Close()
}

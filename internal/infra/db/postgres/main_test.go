//go:build integration

package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// SUBTITLER_TEST_DATABASE_URL points the archive tests at an existing
// database instead of a throwaway container.
const testDatabaseURLEnv = "SUBTITLER_TEST_DATABASE_URL"

const (
	archiveDB       = "subtitler_archive_test"
	archiveUser     = "subtitler"
	archivePassword = "subtitler"
	archivePort     = "55432"
)

var testPool *pgxpool.Pool

// schemaPath locates deploy/postgres/init.sql relative to the module root.
func schemaPath() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "deploy", "postgres", "init.sql"), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above " + dir)
		}
		dir = parent
	}
}

func startArchiveContainer() (string, error) {
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"-p", archivePort+":5432",
		"-e", "POSTGRES_DB="+archiveDB,
		"-e", "POSTGRES_USER="+archiveUser,
		"-e", "POSTGRES_PASSWORD="+archivePassword,
		"postgres:14",
	)
	var out, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker run: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	id := strings.TrimSpace(out.String())
	if len(id) > 12 {
		id = id[:12]
	}
	return id, nil
}

func connectArchive(ctx context.Context, url string) (*pgxpool.Pool, error) {
	var lastErr error
	for attempt := 1; attempt <= 20; attempt++ {
		pool, err := pgxpool.Connect(ctx, url)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("archive database not reachable: %w", lastErr)
}

func applyArchiveSchema(ctx context.Context, pool *pgxpool.Pool) error {
	path, err := schemaPath()
	if err != nil {
		return err
	}
	schema, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(schema))
	return err
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	url := os.Getenv(testDatabaseURLEnv)
	containerID := ""
	if url == "" {
		id, err := startArchiveContainer()
		if err != nil {
			log.Fatalf("archive tests need Docker or %s: %v", testDatabaseURLEnv, err)
		}
		containerID = id
		url = fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", archiveUser, archivePassword, archivePort, archiveDB)
	}
	stop := func() {
		if containerID != "" {
			_ = exec.Command("docker", "stop", containerID).Run()
		}
	}

	pool, err := connectArchive(ctx, url)
	if err != nil {
		stop()
		log.Fatal(err)
	}
	testPool = pool
	if err := applyArchiveSchema(ctx, testPool); err != nil {
		testPool.Close()
		stop()
		log.Fatalf("apply archive schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	stop()
	os.Exit(code)
}

// cleanup empties the archive tables between subtests.
func cleanup(t *testing.T) {
	t.Helper()
	if _, err := testPool.Exec(context.Background(), `TRUNCATE subtitle_jobs, subtitle_segments CASCADE`); err != nil {
		t.Fatalf("truncate archive tables: %v", err)
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbsearch/internal/cli"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/models"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`storage:
  driver: sqlite
  database_path: %s
  bleve_index_path: %s
embedding:
  provider: hash
  dimensions: 64
cache:
  backend: memory
`, filepath.Join(dir, "db", "kbsearch.db"), filepath.Join(dir, "bleve"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kbsearch version dev")
}

func TestLoadConfig_prefersWorkingDirectory(t *testing.T) {
	path := writeTestConfig(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(filepath.Dir(path)))
	defer func() { _ = os.Chdir(wd) }()

	cfg, loaded, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", filepath.Base(loaded))
	assert.Equal(t, "hash", cfg.Embedding.Provider)
}

func TestLoadConfig_missing(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestIngestSearchStatusDelete(t *testing.T) {
	cfgPath := writeTestConfig(t)
	docs := t.TempDir()
	article := filepath.Join(docs, "KB12 printer.txt")
	require.NoError(t, os.WriteFile(article, []byte("Printer offline\n\nRestart the print spooler service."), 0600))
	tickets := filepath.Join(docs, "tickets.csv")
	require.NoError(t, os.WriteFile(tickets, []byte(
		"tracking_index,Description,Close Notes,summarize_ticket,ticket_quality,user_proficiency_level,potential_impact,resolution_appropriateness,potential_root_cause\n"+
			"T1,VPN disconnects every hour,Reinstalled client,VPN drops,Good,Beginner,High,Appropriate,Old client\n"), 0600))

	out, err := run(t, "--config", cfgPath, "ingest", "-o", "json", article)
	require.NoError(t, err)
	var summary indexer.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, []string{"KB12"}, summary.IDs)
	assert.Equal(t, 1, summary.Created)

	out, err = run(t, "--config", cfgPath, "ingest", "--kind", "ticket", "-o", "json", tickets)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, []string{"T1"}, summary.IDs)

	out, err = run(t, "--config", cfgPath, "search", "-o", "json", "--kind", "article", "printer", "offline")
	require.NoError(t, err)
	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "printer offline", resp.Query)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "KB12", resp.Results[0].Document.ID)
	assert.Equal(t, 1, resp.Results[0].Rank)

	out, err = run(t, "--config", cfgPath, "search", "--keyword", "-o", "json", "vpn")
	require.NoError(t, err)
	var hits []*models.KeywordResult
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.NotEmpty(t, hits)

	out, err = run(t, "--config", cfgPath, "status", "-o", "json")
	require.NoError(t, err)
	var status cli.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, int64(2), status.Documents)
	assert.Equal(t, 2, status.Engine.Documents)
	assert.Equal(t, "hash", status.Config["embedding_provider"])

	out, err = run(t, "--config", cfgPath, "delete", "KB12")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted KB12")

	out, err = run(t, "--config", cfgPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "KB articles: 0")
	assert.Contains(t, out, "Tickets:     1")
}

func TestIngest_badKind(t *testing.T) {
	_, err := run(t, "--config", writeTestConfig(t), "ingest", "--kind", "invoice", "x.txt")
	assert.Error(t, err)
}

func TestSearch_emptyQuery(t *testing.T) {
	_, err := run(t, "--config", writeTestConfig(t), "search", "   ")
	assert.Error(t, err)
}

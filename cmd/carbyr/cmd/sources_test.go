package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gellingson/carbyr/internal/config"
	"github.com/gellingson/carbyr/internal/sources"
)

const validSourceYAML = `id: 7
textid: craig
full_name: Craigslist
kind: classified
enabled: true
schedule: hourly
keep_days: 30
min_heading_length: 10
max_listing_text_length: 2048
`

func TestPrintSources(t *testing.T) {
	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	printSources(cmd, []sources.Config{
		{TextID: "craig", FullName: "Craigslist", Kind: sources.KindClassified, Enabled: true, Schedule: "hourly"},
		{TextID: "fantasy", FullName: "Fantasy Junction", Kind: sources.KindDealer, Enabled: true},
		{TextID: "ebay", FullName: "eBay Motors", Kind: sources.KindClassified, Schedule: "manual"},
	}, config.JobsConfig{PollInterval: 15 * time.Minute, ScrapeInterval: 24 * time.Hour})

	out := buf.String()
	assert.Contains(t, out, "TEXTID")
	assert.Regexp(t, `craig\s+classified\s+true\s+1h0m0s\s+Craigslist`, out)
	assert.Regexp(t, `fantasy\s+dealer\s+true\s+24h0m0s\s+Fantasy Junction`, out)
	assert.Regexp(t, `ebay\s+classified\s+false\s+manual\s+eBay Motors`, out)
}

func TestSourcesValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "craig.yaml")
	bad := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(good, []byte(validSourceYAML), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("id: 0\ntextid: Broken\nkind: boat\n"), 0o600))

	t.Run("valid file", func(t *testing.T) {
		root := newRootCommand()
		buf := new(bytes.Buffer)
		root.SetOut(buf)
		root.SetErr(buf)
		root.SetArgs([]string{"sources", "validate", good})

		require.NoError(t, root.Execute())
		assert.Contains(t, buf.String(), "ok   "+good)
	})

	t.Run("invalid file fails the command", func(t *testing.T) {
		root := newRootCommand()
		buf := new(bytes.Buffer)
		root.SetOut(buf)
		root.SetErr(buf)
		root.SetArgs([]string{"sources", "validate", good, bad})

		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2")
		assert.Contains(t, buf.String(), "FAIL "+bad)
	})
}

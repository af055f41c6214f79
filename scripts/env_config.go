package main

import (
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/mattermost/rosterd/service"

	"github.com/kelseyhightower/envconfig"
)

const usageFormat = "### Config Environment Overrides\n\n```\nKEY\tTYPE\tDEFAULT\n{{range .}}{{usage_key .}}\t{{usage_type .}}\t{{usage_default .}}\n{{end}}```\n"

// Writes the list of ROSTERD_* environment overrides to the given file, or
// stdout when none is given.
func main() {
	var out io.Writer = os.Stdout
	if len(os.Args) > 1 {
		outFile, err := os.OpenFile(os.Args[1], os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			log.Fatalf("failed to open file: %s", err.Error())
		}
		defer outFile.Close()
		out = outFile
	}

	tabs := tabwriter.NewWriter(out, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef("rosterd", &service.Config{}, tabs, usageFormat); err != nil {
		log.Fatalf("failed to generate usage: %s", err.Error())
	}
	if err := tabs.Flush(); err != nil {
		log.Fatalf("failed to flush output: %s", err.Error())
	}
}

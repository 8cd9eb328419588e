package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"certmarket/internal/classify"
	"certmarket/internal/cli"
	"certmarket/internal/globaltime"
	"certmarket/internal/listing"
	"certmarket/internal/view"
)

func runListings(args []string) int {
	fs := flag.NewFlagSet("listings", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	categoryFlag := fs.String("category", "", "Filter by category: demand, supply or other")
	location := fs.String("location", "", "Case-insensitive location substring filter")
	tagsFlag := fs.String("tags", "", "Comma-separated certificate tags (OR filter)")
	limit := fs.Int("limit", 50, "Maximum number of listings to show")
	offset := fs.Int("offset", 0, "Number of listings to skip")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
		return 2
	}
	if *offset < 0 {
		fmt.Fprintln(os.Stderr, "--offset must be >= 0")
		return 2
	}

	category, hasCategory, err := listing.ParseCategory(*categoryFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, cancel, cfg, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	rules, err := classify.ByVersion(cfg.ClassifierRuleset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid classifier ruleset: %v\n", err)
		return 1
	}

	records, err := pool.ListAllRecords(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load listings: %v\n", err)
		return 1
	}

	snapshot, err := view.Build(records, rules, globaltime.UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build view: %v\n", err)
		return 1
	}

	params := view.SearchParams{
		Location:        *location,
		CertificateTags: splitCommaList(*tagsFlag),
		Limit:           *limit,
		Offset:          *offset,
	}
	if hasCategory {
		params.Category = &category
	}
	result := snapshot.Search(params)

	if outputFormat == outputFormatJSON {
		if err := printJSON(map[string]any{
			"items":       result.Classes,
			"total_items": result.Total,
			"ruleset":     snapshot.RuleVersion,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(result.Classes))
	for _, class := range result.Classes {
		rep := class.Representative
		rows = append(rows, []string{
			strconv.FormatInt(rep.ID, 10),
			string(rules.ClassifyRecord(rep)),
			truncateForTable(strings.Join(rep.SplitCertificates, ","), 40),
			truncateForTable(rep.Location, 20),
			formatPrice(rep.Price),
			strconv.Itoa(class.RepeatCount),
			formatUTCTimestamp(rep.CreatedAt),
		})
	}
	if err := writeTable(
		[]string{"ID", "CATEGORY", "TAGS", "LOCATION", "PRICE", "REPEATS", "CREATED"},
		rows,
	); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write table: %v\n", err)
		return 1
	}
	fmt.Printf("total=%d shown=%d ruleset=%s\n", result.Total, len(result.Classes), snapshot.RuleVersion)
	return 0
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

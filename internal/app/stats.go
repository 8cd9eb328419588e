package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"certmarket/internal/cli"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	typeLimit := fs.Int("type-limit", 10, "Number of top raw type labels to show")
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
	if *typeLimit < 1 {
		fmt.Fprintln(os.Stderr, "--type-limit must be >= 1")
		return 2
	}

	ctx, cancel, _, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	listingStats, err := pool.QueryListingStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load listing stats: %v\n", err)
		return 1
	}
	rawStats, err := pool.QueryRawMessageStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load raw message stats: %v\n", err)
		return 1
	}
	typeCounts, err := pool.QueryTypeCounts(ctx, *typeLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load type counts: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(map[string]any{
			"listings":     listingStats,
			"raw_messages": rawStats,
			"top_types":    typeCounts,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
			return 1
		}
		return 0
	}

	averagePrice := ""
	if listingStats.AveragePrice != nil {
		averagePrice = fmt.Sprintf("%.2f", *listingStats.AveragePrice)
	}
	latest := ""
	if listingStats.LatestListingAt != nil {
		latest = formatUTCTimestamp(*listingStats.LatestListingAt)
	}

	if err := writeTable(
		[]string{"METRIC", "VALUE"},
		[][]string{
			{"total_listings", strconv.FormatInt(listingStats.TotalListings, 10)},
			{"unique_groups", strconv.FormatInt(listingStats.UniqueGroups, 10)},
			{"unique_members", strconv.FormatInt(listingStats.UniqueMembers, 10)},
			{"with_certificates", strconv.FormatInt(listingStats.WithCertificates, 10)},
			{"average_price", averagePrice},
			{"latest_listing_at", latest},
			{"raw_messages", strconv.FormatInt(rawStats.TotalMessages, 10)},
			{"raw_unique_contents", strconv.FormatInt(rawStats.UniqueContents, 10)},
			{"raw_duplicates", strconv.FormatInt(rawStats.DuplicateCount, 10)},
		},
	); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write table: %v\n", err)
		return 1
	}

	if len(typeCounts) > 0 {
		fmt.Println()
		rows := make([][]string, 0, len(typeCounts))
		for _, tc := range typeCounts {
			rows = append(rows, []string{truncateForTable(tc.Type, 30), strconv.FormatInt(tc.Count, 10)})
		}
		if err := writeTable([]string{"TYPE", "COUNT"}, rows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write table: %v\n", err)
			return 1
		}
	}
	return 0
}

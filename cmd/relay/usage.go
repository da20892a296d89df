package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/nugget/relay/internal/usage"
)

const defaultUsageWindow = 24 * time.Hour

type usageReport struct {
	Since   time.Time                 `json:"since"`
	Until   time.Time                 `json:"until"`
	Total   *usage.Summary            `json:"total"`
	ByModel map[string]*usage.Summary `json:"by_model"`
	ByKind  map[string]*usage.Summary `json:"by_kind"`
}

// runUsage prints model token usage over a recent window.
func runUsage(w io.Writer, configPath, outputFmt string, args []string) error {
	window := defaultUsageWindow
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-since" && i+1 < len(args):
			d, err := time.ParseDuration(args[i+1])
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid -since %q: want a positive duration like 24h", args[i+1])
			}
			window = d
			i++
		default:
			return fmt.Errorf("usage: relay usage [-since duration]")
		}
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := usage.NewStore(usageDBPath(cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now()
	rep, err := buildUsageReport(store, now.Add(-window), now.Add(time.Second))
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	writeUsageReport(w, rep)
	return nil
}

func buildUsageReport(store *usage.Store, start, end time.Time) (*usageReport, error) {
	total, err := store.Summary(start, end)
	if err != nil {
		return nil, err
	}
	byModel, err := store.SummaryByModel(start, end)
	if err != nil {
		return nil, err
	}
	byKind, err := store.SummaryByKind(start, end)
	if err != nil {
		return nil, err
	}
	return &usageReport{Since: start, Until: end, Total: total, ByModel: byModel, ByKind: byKind}, nil
}

func writeUsageReport(w io.Writer, rep *usageReport) {
	fmt.Fprintf(w, "Model usage since %s\n", rep.Since.Format(time.RFC3339))
	fmt.Fprintf(w, "  %-32s %8d calls %10d in %10d out\n", "total",
		rep.Total.TotalRecords, rep.Total.TotalInputTokens, rep.Total.TotalOutputTokens)

	for _, section := range []struct {
		title string
		rows  map[string]*usage.Summary
	}{
		{"By model:", rep.ByModel},
		{"By kind:", rep.ByKind},
	} {
		if len(section.rows) == 0 {
			continue
		}
		fmt.Fprintln(w, section.title)
		keys := make([]string, 0, len(section.rows))
		for k := range section.rows {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s := section.rows[k]
			fmt.Fprintf(w, "  %-32s %8d calls %10d in %10d out\n", k,
				s.TotalRecords, s.TotalInputTokens, s.TotalOutputTokens)
		}
	}
}

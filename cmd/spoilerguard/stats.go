package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/abelbrown/spoilerguard/internal/stats"
)

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	days := fs.Int("days", 7, "Number of days to show, today included")
	title := fs.String("title", "", "Only show this title id")
	rawJSON := fs.Bool("json", false, "Output JSON")
	fs.Parse(os.Args[1:])

	cfg := loadConfig()
	st := openStats(cfg)
	defer st.Close()

	now := time.Now()
	counts, err := st.Since(now.AddDate(0, 0, 1-max(*days, 1)))
	if err != nil {
		fatalf("%v", err)
	}
	if *title != "" {
		counts = slices.DeleteFunc(counts, func(c stats.Count) bool { return c.TitleID != *title })
	}

	if *rawJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(counts); err != nil {
			fatalf("%v", err)
		}
		return
	}

	today, _ := st.Total(now)
	fmt.Printf("Blocked today:  %d\n\n", today)
	if len(counts) == 0 {
		fmt.Println("No masked sentences recorded.")
		return
	}
	fmt.Println(statsTable(counts))
}

// statsTable renders counts with a per-day subtotal column.
func statsTable(counts []stats.Count) string {
	perDay := map[string]int{}
	for _, c := range counts {
		perDay[c.Day] += c.Masked
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("DAY", "TITLE", "MASKED", "DAY TOTAL")

	var prev string
	firstOfDay := map[int]bool{}
	for i, c := range counts {
		day, total := "", ""
		if c.Day != prev {
			day, total = c.Day, fmt.Sprint(perDay[c.Day])
			firstOfDay[i] = true
			prev = c.Day
		}
		t.Row(day, c.TitleID, fmt.Sprint(c.Masked), total)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle.Padding(0, 1)
		case col == 0 && firstOfDay[row]:
			return cellStyle.Bold(true)
		}
		return cellStyle
	})
	return t.Render()
}

package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"

	"go-news-collector/internal/dedupe"
	"go-news-collector/internal/store"
	"go-news-collector/pkg/utils"
)

func main() {
	input := flag.String("input", "", "input CSV file")
	output := flag.String("output", "", "output CSV file")
	export := flag.String("export", "", "article store (JSON) to convert to CSV instead of de-duplicating")
	flag.Parse()

	if *output == "" {
		log.Fatalf("Error: -output is required")
	}

	if *export != "" {
		articles, err := store.LoadArticles(*export)
		if err != nil {
			log.Fatalf("Failed to load article store: %v", err)
		}
		var buf bytes.Buffer
		if err := dedupe.ExportCSV(articles, &buf); err != nil {
			log.Fatalf("Failed to export CSV: %v", err)
		}
		if err := utils.WriteFileAtomic(*output, buf.Bytes(), 0644); err != nil {
			log.Fatalf("Failed to write %s: %v", *output, err)
		}
		fmt.Printf("Exported %d articles from %s to %s\n", len(articles), *export, *output)
		return
	}

	if *input == "" {
		log.Fatalf("Error: -input or -export is required")
	}

	stats, err := dedupe.RemoveDuplicateTitles(*input, *output)
	if err != nil {
		log.Fatalf("Failed to remove duplicates: %v", err)
	}

	fmt.Printf("Removed %d rows with duplicate titles (%d kept). Output saved to %s\n", stats.Removed, stats.Kept, *output)
}

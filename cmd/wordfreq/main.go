package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"go-news-collector/internal/wordfreq"
	"go-news-collector/pkg/utils"
)

func main() {
	articles := flag.String("articles", "", "annotated articles CSV (Annotation, Description columns)")
	output := flag.String("output", "", "output JSON file")
	minCount := flag.Int("min-count", 1, "drop words occurring fewer times than this in a topic")
	flag.Parse()

	if *articles == "" || *output == "" {
		log.Fatalf("Error: -articles and -output are required")
	}

	if err := utils.EnsureDirectoryExists(filepath.Dir(*output)); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	stats, err := wordfreq.Compute(*articles, *output, *minCount)
	if err != nil {
		log.Fatalf("Failed to compute word frequencies: %v", err)
	}

	fmt.Printf("Counted %d rows into %d topics (%d words). Output saved to %s\n", stats.Rows, stats.Topics, stats.Words, *output)
}

package newsapi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CountPolicy decides how many of totalResults articles to retrieve.
// It bounds API quota spent on broad queries.
type CountPolicy func(totalResults int) (int, error)

// ErrNoInput is returned by the interactive policy when input ends before
// a valid count was entered.
var ErrNoInput = errors.New("no article count entered")

// DefaultCountPolicy retrieves min(limit, totalResults) articles without asking.
func DefaultCountPolicy(limit int) CountPolicy {
	if limit <= 0 {
		limit = MaxPageSize
	}
	return func(totalResults int) (int, error) {
		return min(limit, totalResults), nil
	}
}

// InteractiveCountPolicy prompts on out for a whole number in
// [1, totalResults], re-prompting on bad input.
func InteractiveCountPolicy(in io.Reader, out io.Writer) CountPolicy {
	scanner := bufio.NewScanner(in)
	return func(totalResults int) (int, error) {
		fmt.Fprintf(out, "Found %d articles matching your query.\n", totalResults)
		for {
			fmt.Fprintf(out, "How many of the articles would you like to fetch? "+
				"(each request returns up to %d, so more will require more requests)\n> ", MaxPageSize)

			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return 0, fmt.Errorf("failed to read article count: %w", err)
				}
				return 0, ErrNoInput
			}

			n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
			if err != nil {
				fmt.Fprintln(out, "Please enter a valid whole number.")
				continue
			}

			if n < 1 || n > totalResults {
				fmt.Fprintf(out, "The number must be between 1 and %d\n", totalResults)
				continue
			}

			return n, nil
		}
	}
}

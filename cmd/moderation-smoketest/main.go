package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/promptfm/radiocore/src/moderation"
)

var (
	promptFlag  = flag.String("prompt", "", "Prompt to evaluate (required)")
	termsFlag   = flag.String("terms", "", "Extra banned terms, comma separated")
	remoteFlag  = flag.Bool("remote", false, "Also call the external moderation API (needs MODERATION_API_KEY)")
	timeoutFlag = flag.Duration("timeout", 10*time.Second, "Remote call timeout")
)

// Exercises the gate layers against a single prompt without touching the
// database or the queue. Useful when tuning the banned-term list.
func main() {
	flag.Parse()
	if *promptFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	terms := append([]string(nil), moderation.DefaultBannedTerms...)
	if *termsFlag != "" {
		for _, t := range strings.Split(*termsFlag, ",") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, t)
			}
		}
	}

	patterns, err := moderation.NewPatternFilter(terms)
	if err != nil {
		log.Fatalf("compile patterns: %v", err)
	}

	if match := patterns.Evaluate(*promptFlag); match != nil {
		fmt.Printf("pattern layer: HIT rule=%q kind=%s confidence=%.2f\n", match.Rule, match.Kind, match.Confidence)
	} else {
		fmt.Println("pattern layer: clean")
	}

	if !*remoteFlag {
		return
	}

	apiKey := os.Getenv("MODERATION_API_KEY")
	if apiKey == "" {
		log.Fatal("MODERATION_API_KEY not set")
	}
	apiURL := os.Getenv("MODERATION_API_URL")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1/moderations"
	}

	client := moderation.NewClient(apiKey, apiURL, *timeoutFlag)
	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()
	scores, err := client.Score(ctx, *promptFlag)
	if err != nil {
		log.Fatalf("remote scoring: %v", err)
	}
	for cat, score := range scores {
		threshold, tracked := moderation.CategoryThresholds[cat]
		marker := " "
		if tracked && score >= threshold {
			marker = "!"
		}
		fmt.Printf("%s %-28s %.4f\n", marker, cat, score)
	}
}

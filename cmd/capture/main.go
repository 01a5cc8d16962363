// Command capture pushes one photo through the full capture pipeline against
// a running server: validate, downscale, presigned upload, inference. Useful
// for end-to-end smoke checks without a browser widget.
package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/helioma/facet/pkg/apiclient"
	"github.com/helioma/facet/pkg/capture"
	"github.com/helioma/facet/pkg/pipeline"
)

func main() {
	baseURL := flag.String("server", "http://localhost:8080", "facet server base URL")
	imagePath := flag.String("image", "", "path to the photo to analyze")
	identityPath := flag.String("identity", "", "override the persisted identity file")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall run timeout")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		if env := strings.TrimSpace(os.Getenv("FACET_SERVER_URL")); env != "" && *baseURL == "http://localhost:8080" {
			*baseURL = env
		}
	}

	if strings.TrimSpace(*imagePath) == "" {
		fmt.Fprintln(os.Stderr, "-image is required")
		os.Exit(1)
	}

	blob, err := os.ReadFile(*imagePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read image:", err)
		os.Exit(1)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(*imagePath)))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	identity, err := apiclient.LoadOrCreateIdentity(*identityPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve identity:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client := apiclient.New(strings.TrimRight(*baseURL, "/"), identity)
	run := pipeline.New(pipeline.NewService(client), pipeline.Config{
		Preview: func(publicURL string) {
			fmt.Println("uploaded:", publicURL)
		},
		OnStatus: func(status pipeline.Status) {
			if status.RetryAttempt > 0 {
				fmt.Printf("state: %s (retry %d)\n", status.State, status.RetryAttempt)
				return
			}
			fmt.Println("state:", status.State)
		},
	})

	session := capture.NewSessionFromBlob(blob, mimeType)
	outcome := run.Run(ctx, session, nil)

	switch outcome.State {
	case pipeline.StateCompleted:
		fmt.Println(string(outcome.Analysis))
	case pipeline.StateQueued:
		fmt.Printf("queued: job %s", outcome.JobID)
		if outcome.RetryAfterHint > 0 {
			fmt.Printf(", check back in %s", outcome.RetryAfterHint)
		}
		fmt.Println()
	case pipeline.StateFailed:
		if outcome.WaitMinutes > 0 {
			fmt.Fprintf(os.Stderr, "rate limited, retry in %d min\n", outcome.WaitMinutes)
		} else {
			fmt.Fprintf(os.Stderr, "failed (%s): %v\n", outcome.Failure, outcome.Err)
		}
		os.Exit(1)
	}
}

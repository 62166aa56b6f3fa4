// gaps-stub serves the stand-in Gaps application with the demo Plex catalog,
// for running scenarios or poking at the pages by hand.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jasonhhouse/gaps-e2e/internal/config"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
	"github.com/jasonhhouse/gaps-e2e/internal/stubapp"
)

func main() {
	flags := config.ParseFlags()
	// The stand-in never needs a target URL or fixture secrets.
	flags.Stub = true
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		log.Fatal(err)
	}
	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := stubapp.Start(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Fprintf(os.Stderr, "\nGaps stand-in listening on %s\n", srv.URL)
	fmt.Fprintf(os.Stderr, "  TMDB_KEY=%s PLEX_TOKEN=%s\n", stubapp.Demo.TMDBKey, stubapp.Demo.PlexToken)
	fmt.Fprintf(os.Stderr, "  LIBRARY_PLEX_URL=%s\n  RED_PLEX_URL=%s\n  JOKER_PLEX_URL=%s\n\n",
		stubapp.Demo.LibraryPlexURL, stubapp.Demo.RedPlexURL, stubapp.Demo.JokerPlexURL)

	select {
	case <-ctx.Done():
	case err := <-srv.Done():
		if err != nil {
			log.Printf("serve: %v", err)
		}
	}

	obs.Pkg("main").Info("shutting_down")
	if err := srv.Close(); err != nil {
		log.Fatal(err)
	}
}

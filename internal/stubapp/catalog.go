package stubapp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Title is a movie as Plex or TMDB report it.
type Title struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
}

// PlexLibrary is a movie library on a catalog server. Owned titles are in
// the library; Missing titles complete collections the library owns part of.
type PlexLibrary struct {
	Key     int
	Title   string
	Owned   []Title
	Missing []Title
}

// PlexServer is a Plex server the stand-in can "reach".
type PlexServer struct {
	MachineID    string
	FriendlyName string
	Token        string
	Libraries    []PlexLibrary
}

// Library returns the library with the given key.
func (s PlexServer) Library(key int) (PlexLibrary, bool) {
	for _, lib := range s.Libraries {
		if lib.Key == key {
			return lib, true
		}
	}
	return PlexLibrary{}, false
}

// Catalog maps "address:port" to the Plex server answering there.
type Catalog map[string]PlexServer

// Lookup returns the server at address and port.
func (c Catalog) Lookup(address string, port int) (PlexServer, bool) {
	srv, ok := c[net.JoinHostPort(strings.ToLower(address), strconv.Itoa(port))]
	return srv, ok
}

const (
	// JokerMachineID identifies the demo server whose only library is empty.
	JokerMachineID = "721fee4db63634b88ed699f8b0a16d7682a7a0d9"

	knoxMachineID = "8e4f2d1c0b9a7f6e5d4c3b2a1908f7e6d5c4b3a2"
)

// DemoSettings are the fixture inputs that reach the demo catalog.
type DemoSettings struct {
	TMDBKey        string
	PlexToken      string
	LibraryPlexURL string
	RedPlexURL     string
	JokerPlexURL   string
}

// Demo is the fixture configuration matching DemoCatalog.
var Demo = DemoSettings{
	TMDBKey:        "demo-tmdb-key",
	PlexToken:      "demo-plex-token",
	LibraryPlexURL: "http://knox.plex.test:32400",
	RedPlexURL:     "http://red.plex.test:32400",
	JokerPlexURL:   "http://joker.plex.test:32400",
}

// DemoCatalog returns the servers behind the Demo URLs: KnoxServer (reached
// at both the library and red addresses) and the joker server, whose movie
// library is empty.
func DemoCatalog() Catalog {
	knox := PlexServer{
		MachineID:    knoxMachineID,
		FriendlyName: "KnoxServer",
		Token:        Demo.PlexToken,
		Libraries: []PlexLibrary{
			{
				Key:   1,
				Title: "Movies",
				Owned: []Title{
					{Title: "Alien", Year: 1979},
					{Title: "Die Hard", Year: 1988},
					{Title: "Saw", Year: 2004},
					{Title: "The Matrix", Year: 1999},
					{Title: "Toy Story", Year: 1995},
				},
				Missing: []Title{
					{Title: "Aliens", Year: 1986},
					{Title: "Die Hard 2", Year: 1990},
					{Title: "Saw II", Year: 2005},
					{Title: "The Matrix Reloaded", Year: 2003},
					{Title: "Toy Story 2", Year: 1999},
				},
			},
			{
				Key:   2,
				Title: "Disney Classic Movies",
				Owned: []Title{
					{Title: "Bambi", Year: 1942},
					{Title: "Cinderella", Year: 1950},
					{Title: "Pinocchio", Year: 1940},
					{Title: "Seesaw Summer", Year: 1961},
				},
				Missing: []Title{
					{Title: "Bambi II", Year: 2006},
					{Title: "Cinderella II: Dreams Come True", Year: 2002},
				},
			},
		},
	}
	joker := PlexServer{
		MachineID:    JokerMachineID,
		FriendlyName: "JokerServer",
		Token:        Demo.PlexToken,
		Libraries: []PlexLibrary{
			{Key: 1, Title: "Movies"},
		},
	}

	catalog := Catalog{}
	for rawURL, srv := range map[string]PlexServer{
		Demo.LibraryPlexURL: knox,
		Demo.RedPlexURL:     knox,
		Demo.JokerPlexURL:   joker,
	} {
		host, port := mustHostPort(rawURL)
		catalog[net.JoinHostPort(host, strconv.Itoa(port))] = srv
	}
	return catalog
}

func mustHostPort(rawURL string) (string, int) {
	rest := strings.TrimPrefix(rawURL, "http://")
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		panic(fmt.Sprintf("stubapp: bad demo url %q: %v", rawURL, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		panic(fmt.Sprintf("stubapp: bad demo port %q: %v", rawURL, err))
	}
	return host, port
}

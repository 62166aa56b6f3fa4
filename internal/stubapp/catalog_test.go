package stubapp

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDemoCatalog_Lookup(t *testing.T) {
	catalog := DemoCatalog()

	knox, ok := catalog.Lookup("knox.plex.test", 32400)
	require.True(t, ok)
	assert.Equal(t, "KnoxServer", knox.FriendlyName)

	red, ok := catalog.Lookup("RED.plex.test", 32400)
	require.True(t, ok, "host lookup ignores case")
	assert.Equal(t, knox.MachineID, red.MachineID)

	joker, ok := catalog.Lookup("joker.plex.test", 32400)
	require.True(t, ok)
	assert.Equal(t, JokerMachineID, joker.MachineID)
	lib, ok := joker.Library(1)
	require.True(t, ok)
	assert.Empty(t, lib.Owned)
	assert.Empty(t, lib.Missing)

	_, ok = catalog.Lookup("knox.plex.test", 32401)
	assert.False(t, ok)
}

func TestDemoCatalog_OnlyOneSawPerLibrary(t *testing.T) {
	knox, _ := DemoCatalog().Lookup("knox.plex.test", 32400)
	for _, lib := range knox.Libraries {
		n := 0
		for _, title := range lib.Owned {
			if strings.Contains(strings.ToLower(title.Title), "saw") {
				n++
			}
		}
		assert.Equal(t, 1, n, "library %q", lib.Title)
	}
}

func TestPlexServer_LibraryMissing(t *testing.T) {
	knox, _ := DemoCatalog().Lookup("knox.plex.test", 32400)
	_, ok := knox.Library(99)
	assert.False(t, ok)
}

func TestRenderPoster(t *testing.T) {
	img, err := RenderPoster(Title{Title: "The Matrix Reloaded", Year: 2003})
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, posterWidth, cfg.Width)
	assert.Equal(t, posterHeight, cfg.Height)

	again, err := RenderPoster(Title{Title: "The Matrix Reloaded", Year: 2003})
	require.NoError(t, err)
	assert.Equal(t, img, again, "posters are deterministic")
}

func TestRenderCallToAction(t *testing.T) {
	img, err := RenderCallToAction()
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(img))
	assert.NoError(t, err)
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, []string{"Die Hard"}, wrapText("Die Hard", 20))
	assert.Equal(t, []string{"The Matrix", "Reloaded"}, wrapText("The Matrix Reloaded", 12))
	assert.Equal(t, []string{"abcd", "ef"}, wrapText("abcdef", 4))
	assert.Nil(t, wrapText("   ", 4))
	assert.Equal(t, []string{"x y"}, wrapText("x y", 0))
}

func TestWrapText_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOf(rapid.StringMatching(`[a-z]{1,15}`)).Draw(t, "words")
		width := rapid.IntRange(1, 30).Draw(t, "width")
		lines := wrapText(strings.Join(words, " "), width)

		for _, line := range lines {
			if n := len([]rune(line)); n > width || n == 0 {
				t.Fatalf("line %q has %d runes, width %d", line, n, width)
			}
		}
		joined := strings.ReplaceAll(strings.Join(lines, ""), " ", "")
		if want := strings.Join(words, ""); joined != want {
			t.Fatalf("lost text: got %q want %q", joined, want)
		}
	})
}

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/quasilyte/coso"
	"github.com/quasilyte/coso/cosofile"
)

// This simple CLI tool plays the specified COSO song using Ebitengine audio player.
//
// Controls:
//	SPACE - pause/resume
//	1-4   - mute/unmute the voice
//	P     - preview the first instrument

func main() {
	songID := flag.Int("song", 0, "song index inside the file")
	flag.Usage = func() {
		fmt.Printf("usage: go run ./cmd/ebitengine-example path/to/music.bin\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if len(flag.Args()) < 1 {
		panic("expected at least 1 command-line argument")
	}
	filename := flag.Args()[0]

	// Create a usable COSO stream.
	data, err := os.ReadFile(filename)
	if err != nil {
		panic(fmt.Errorf("read COSO file: %v", err))
	}
	offsets := cosofile.FindSongs(data)
	if *songID < 0 || *songID >= len(offsets) {
		panic(fmt.Sprintf("song %d not found (%d songs in file)", *songID, len(offsets)))
	}
	song, err := cosofile.NewParser(cosofile.ParserConfig{}).ParseAt(data, offsets[*songID])
	if err != nil {
		panic(fmt.Errorf("parsing COSO song: %v", err))
	}
	stream := coso.NewStream()
	if err := stream.LoadSong(song, coso.LoadSongConfig{}); err != nil {
		panic(fmt.Sprintf("compiling COSO song: %v", err))
	}

	g := &game{
		stream:   stream,
		filename: filename,
		paused:   true,
		muted:    make([]bool, len(song.Voices)),
	}
	// The handler is called from the audio goroutine.
	stream.SetEventHandler(coso.LogEvents(slog.Default()))

	// Create a sound player using the Ebitengine audio context.
	// You can have multiple players, but only one audio context.
	// See Ebitengine docs to learn more.
	sampleRate := 44100
	audioContext := audio.NewContext(sampleRate)
	player, err := audioContext.NewPlayer(stream)
	if err != nil {
		panic(err)
	}
	g.player = player

	g.synth = coso.NewSynthesizer(song, coso.LoadSongConfig{})
	{
		player, err := audioContext.NewPlayer(g.synth)
		if err != nil {
			panic(err)
		}
		g.synthPlayer = player
	}

	if err := ebiten.RunGame(g); err != nil {
		panic(err)
	}
}

type game struct {
	player *audio.Player
	stream *coso.Stream

	synth       *coso.Synthesizer
	synthPlayer *audio.Player

	filename string
	paused   bool
	muted    []bool
}

var voiceKeys = []ebiten.Key{ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4}

func (g *game) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		g.paused = !g.paused
		if g.player.IsPlaying() {
			g.player.Pause()
		} else {
			g.player.Play()
		}
	}

	for i, k := range voiceKeys[:len(g.muted)] {
		if inpututil.IsKeyJustPressed(k) {
			g.muted[i] = !g.muted[i]
			g.stream.SetVoiceMuted(i, g.muted[i])
		}
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		if err := g.synth.PlayInstrument(0, 36, 50); err != nil {
			return err
		}
		g.synthPlayer.Rewind()
		g.synthPlayer.Play()
	}

	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	var b strings.Builder
	if g.paused {
		b.WriteString("Paused... press SPACE\n")
	} else {
		fmt.Fprintf(&b, "Playing %s...\n", g.filename)
	}
	for i, muted := range g.muted {
		state := "on"
		if muted {
			state = "muted"
		}
		fmt.Fprintf(&b, "voice %d [%d]: %s\n", i+1, i+1, state)
	}
	ebitenutil.DebugPrint(screen, b.String())
}

func (g *game) Layout(_, _ int) (int, int) {
	return 640, 480
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/quasilyte/coso"
	"github.com/quasilyte/coso/cosofile"
	"github.com/quasilyte/coso/cososink"
	"golang.org/x/term"
)

// This simple CLI tool plays a COSO song from a file or an extracted
// archive blob using the default audio device or renders it to a WAV file.

var logger = slog.Default()

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

type arguments struct {
	filename   string
	songID     int
	list       bool
	wavOutput  string
	seconds    int
	sampleRate uint
	mono       bool
	bitDepth   uint
	startTick  int
	instrument int
	note       int
	strict     bool
	parallel   bool
	debug      bool
}

func main() {
	var args arguments
	flag.IntVar(&args.songID, "song", 0, "song index inside the file (see -list)")
	flag.BoolVar(&args.list, "list", false, "list the songs found in the file and exit")
	flag.StringVar(&args.wavOutput, "wav", "", "render the song to the specified WAV file instead of playing it")
	flag.IntVar(&args.seconds, "seconds", 180, "max WAV duration in seconds (most songs loop forever)")
	flag.UintVar(&args.sampleRate, "rate", 44100, "output sample rate")
	flag.BoolVar(&args.mono, "mono", false, "produce mono output")
	flag.UintVar(&args.bitDepth, "bits", 16, "output bit depth (8 or 16)")
	flag.IntVar(&args.startTick, "tick", 0, "start the playback from this tick")
	flag.IntVar(&args.instrument, "instrument", -1, "preview the instrument instead of playing the song")
	flag.IntVar(&args.note, "note", 36, "instrument preview note")
	flag.BoolVar(&args.strict, "strict", false, "reject songs with unresolved instrument/sample references")
	flag.BoolVar(&args.parallel, "parallel", false, "interpret the voices in parallel")
	flag.BoolVar(&args.debug, "debug", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: cosoplay [flags] path/to/music.bin\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if len(flag.Args()) != 1 {
		flag.Usage()
		os.Exit(2)
	}
	args.filename = flag.Args()[0]

	initLogger(args.debug)

	if err := run(args); err != nil {
		logger.Error("cosoplay failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(args arguments) error {
	data, err := os.ReadFile(args.filename)
	if err != nil {
		return err
	}

	offsets := cosofile.FindSongs(data)
	if args.list {
		for i, offset := range offsets {
			fmt.Printf("song %d: offset %#x\n", i, offset)
		}
		return nil
	}
	if len(offsets) == 0 {
		return errors.New("no songs found")
	}
	if args.songID < 0 || args.songID >= len(offsets) {
		return fmt.Errorf("song %d is out of range (%d songs found)", args.songID, len(offsets))
	}

	parser := cosofile.NewParser(cosofile.ParserConfig{
		StrictReferences: args.strict,
	})
	song, err := parser.ParseAt(data, offsets[args.songID])
	if err != nil {
		coso.LogParseError(logger, err)
		return errors.New("can't load the song")
	}
	logger.Info("song loaded",
		slog.Int("song", args.songID),
		slog.Int("voices", len(song.Voices)),
		slog.Int("instruments", len(song.Instruments)),
		slog.Int("samples", len(song.Samples)),
		slog.Int("tickRate", song.TickRate))

	format := cososink.Format{
		SampleRate: int(args.sampleRate),
		Channels:   2,
		BitDepth:   int(args.bitDepth),
	}
	if args.mono {
		format.Channels = 1
	}
	loadConfig := coso.LoadSongConfig{
		SampleRate: uint(format.SampleRate),
		Channels:   uint(format.Channels),
		BitDepth:   uint(format.BitDepth),
	}

	if args.instrument != -1 {
		return previewInstrument(song, args, format, loadConfig)
	}

	if args.wavOutput != "" {
		return renderWAV(song, args, format, loadConfig)
	}
	return play(song, args, format, loadConfig)
}

func newPlayer(song *cosofile.Song, sink coso.Sink, args arguments, config coso.LoadSongConfig) (*coso.Player, error) {
	p, err := coso.NewPlayer(song, sink, coso.PlayerConfig{
		LoadSongConfig: config,
		ParallelVoices: args.parallel,
		EventHandler:   coso.LogEvents(logger),
	})
	if err != nil {
		return nil, err
	}
	if args.startTick != 0 {
		if err := p.SeekToTick(args.startTick); err != nil {
			return nil, err
		}
	}
	return p, nil
}

var errRenderLimit = errors.New("render limit reached")

func renderWAV(song *cosofile.Song, args arguments, format cososink.Format, config coso.LoadSongConfig) (err error) {
	f, err := os.Create(args.wavOutput)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	wav, err := cososink.NewWAV(f, format)
	if err != nil {
		return err
	}
	bytesLeft := args.seconds * format.SampleRate * format.Channels * (format.BitDepth / 8)
	sink := coso.SinkFunc(func(chunk []byte) error {
		if bytesLeft <= 0 {
			return errRenderLimit
		}
		if len(chunk) > bytesLeft {
			chunk = chunk[:bytesLeft]
		}
		bytesLeft -= len(chunk)
		return wav.WriteChunk(chunk)
	})

	p, err := newPlayer(song, sink, args, config)
	if err != nil {
		return err
	}
	if err := p.Start(context.Background()); err != nil {
		return err
	}
	if err := p.Wait(); err != nil && !errors.Is(err, errRenderLimit) {
		return err
	}
	if err := wav.Close(); err != nil {
		return err
	}
	logger.Info("song rendered", slog.String("output", args.wavOutput), slog.Int("ticks", p.Tick()))
	return nil
}

func play(song *cosofile.Song, args arguments, format cososink.Format, config coso.LoadSongConfig) error {
	device, err := cososink.NewDevice(format)
	if err != nil {
		return err
	}
	defer device.Close()

	p, err := newPlayer(song, device, args, config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return err
	}
	logger.Info("playing, press q to stop")

	restore := watchKeys(p)
	defer restore()

	err = p.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("playback stopped")
	return err
}

func previewInstrument(song *cosofile.Song, args arguments, format cososink.Format, config coso.LoadSongConfig) error {
	synth := coso.NewSynthesizer(song, config)
	if err := synth.PlayInstrument(args.instrument, args.note, song.TickRate); err != nil {
		return err
	}

	device, err := cososink.NewDevice(format)
	if err != nil {
		return err
	}
	defer device.Close()

	buf := make([]byte, synth.Stream().GetInfo().BytesPerTick)
	for {
		var ok bool
		buf, ok = synth.Stream().RenderTick(buf[:0])
		if !ok {
			return nil
		}
		if err := device.WriteChunk(buf); err != nil {
			return err
		}
	}
}

// watchKeys stops the player when q is pressed.
// It only works if stdin is a terminal.
func watchKeys(p *coso.Player) (restore func()) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		logger.Warn("failed to set raw mode", slog.Any("err", err))
		return func() {}
	}

	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			switch buf[0] {
			case 'q', 'Q', 3: // 3 is Ctrl+C in raw mode
				p.Stop()
				return
			}
		}
	}()

	return func() {
		_ = term.Restore(fd, oldState)
	}
}

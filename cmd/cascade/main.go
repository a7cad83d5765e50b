package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cascadebt/cascade/internal/jsonutil"
	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/metainfo"
	"github.com/cascadebt/cascade/torrent"
	clog "github.com/cenkalti/log"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli"
)

// Version is set by the linker.
var Version = "0.0.0"

var log = logger.New("cascade")

func main() {
	app := cli.NewApp()
	app.Name = "cascade"
	app.Usage = "BitTorrent client"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: "~/cascade/config.yaml",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
	}
	app.Before = handleBeforeCommand
	app.Commands = []cli.Command{
		{
			Name:      "download",
			Usage:     "download a torrent and seed it",
			ArgsUsage: "<file.torrent>",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "port, p",
					Usage: "listen port for incoming peer connections",
				},
				cli.StringFlag{
					Name:  "dest",
					Usage: "copy completed files to `DIR`",
				},
				cli.BoolFlag{
					Name:  "verify",
					Usage: "check hashes of existing pieces before starting",
				},
				cli.BoolFlag{
					Name:  "seed",
					Usage: "keep seeding after download completes",
				},
				cli.DurationFlag{
					Name:  "stats",
					Usage: "print stats at `INTERVAL`, 0 disables",
					Value: 10 * time.Second,
				},
			},
			Action: handleDownload,
		},
		{
			Name:   "version",
			Usage:  "print version",
			Action: handleVersion,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		clog.Fatal(err)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	if c.GlobalBool("debug") {
		logger.SetLevel(clog.DEBUG)
	}
	return nil
}

func handleVersion(c *cli.Context) error {
	_, err := fmt.Println(Version)
	return err
}

func loadConfig(c *cli.Context) (*torrent.Config, error) {
	path, err := homedir.Expand(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	cfg, err := torrent.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("dest") {
		cfg.CompleteDir, err = homedir.Expand(c.String("dest"))
		if err != nil {
			return nil, err
		}
	}
	if c.Bool("verify") {
		cfg.VerifyOnStart = true
	}
	return cfg, nil
}

func openTorrentFile(path string) (*metainfo.Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	mi, err := metainfo.New(f)
	if err != nil {
		return nil, err
	}
	return mi.Descriptor(), nil
}

func handleDownload(c *cli.Context) error {
	arg := c.Args().Get(0)
	if arg == "" {
		return errors.New("torrent file is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	desc, err := openTorrentFile(arg)
	if err != nil {
		return err
	}
	for _, dir := range []string{cfg.DataDir, filepath.Dir(cfg.Database)} {
		if err = os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}
	if !isTerminal() {
		jsonutil.DisableColor()
	}
	t, err := torrent.New(desc, *cfg)
	if err != nil {
		return err
	}
	defer t.Close()

	t.Start()
	log.Infof("downloading %s (%s) to %s", t.Name(), humanize.IBytes(uint64(desc.Info.TotalLength)), cfg.CompleteDir)

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)

	var tickC <-chan time.Time
	if d := c.Duration("stats"); d > 0 {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		tickC = ticker.C
	}
	completeC := t.NotifyComplete()
	for {
		select {
		case <-tickC:
			printStats(t)
		case <-completeC:
			log.Infof("download completed, %s received", humanize.IBytes(uint64(t.Stats().Bytes.Downloaded)))
			printStats(t)
			if !c.Bool("seed") {
				return nil
			}
			completeC = nil
		case err = <-t.NotifyError():
			return err
		case s := <-sigC:
			log.Infof("received %s, stopping", s)
			printStats(t)
			return nil
		}
	}
}

func printStats(t *torrent.Torrent) {
	b, err := jsonutil.MarshalCompactPretty(t.Stats())
	if err != nil {
		log.Errorln("cannot format stats:", err)
		return
	}
	_, _ = os.Stdout.Write(b)
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"release-maker/internal/domain"
	"release-maker/internal/pipeline"
	"release-maker/internal/service"
)

type makeOptions struct {
	split       bool
	title       string
	source      string
	webLink     string
	trackers    []string
	screenshots bool
	upload      bool
	keep        bool
	torrent     bool
	publish     bool
	xml         bool
}

func newMakeCommand(ctx *commandContext) *cobra.Command {
	var opts makeOptions
	cmd := &cobra.Command{
		Use:   "make <path>...",
		Short: "Run the release pipeline for files, folders or disc directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock, err := lockOutput(cfg)
			if err != nil {
				return err
			}
			defer lock.Unlock()

			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())
			a.Manager.Start(cmd.Context())

			req := service.LaunchRequest{
				Paths:   args,
				Split:   opts.split,
				Title:   opts.title,
				Source:  opts.source,
				WebLink: opts.webLink,
			}
			if cmd.Flags().Changed("tracker") {
				req.Trackers = opts.trackers
			}
			if anyChanged(cmd, "screenshots", "upload", "keep-screenshots", "torrent", "publish", "xml") {
				base, err := cfg.BaseSettings()
				if err != nil {
					return err
				}
				media := base.Options
				overrideBool(cmd, "screenshots", opts.screenshots, &media.CreateScreenshots)
				overrideBool(cmd, "upload", opts.upload, &media.UploadScreenshots)
				overrideBool(cmd, "keep-screenshots", opts.keep, &media.KeepScreenshots)
				overrideBool(cmd, "torrent", opts.torrent, &media.CreateTorrent)
				overrideBool(cmd, "publish", opts.publish, &media.WritePublish)
				overrideBool(cmd, "xml", opts.xml, &media.WriteXML)
				req.Options = &media
			}

			out := cmd.OutOrStdout()
			printer := newEventPrinter(out, isTerminal(out))
			req.Listeners = []pipeline.Listener{printer}

			tasks, err := a.Launcher.Launch(cmd.Context(), req)
			if err != nil && len(tasks) == 0 {
				return err
			}
			for _, t := range tasks {
				<-t.Done()
			}

			fmt.Fprintln(out, renderSummary(tasks, isTerminal(out)))
			failed := 0
			for _, t := range tasks {
				if !t.Success() {
					failed++
				}
			}
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d releases failed", failed, len(tasks))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.split, "split", false, "Create one release per path instead of a single collection")
	flags.StringVar(&opts.title, "title", "", "Release title used in the description")
	flags.StringVar(&opts.source, "source", "", "Source label, e.g. Blu-ray or WEB-DL")
	flags.StringVar(&opts.webLink, "weblink", "", "Information page for the release")
	flags.StringSliceVar(&opts.trackers, "tracker", nil, "Announce URL (repeatable); replaces the configured trackers")
	flags.BoolVar(&opts.screenshots, "screenshots", true, "Take screenshots")
	flags.BoolVar(&opts.upload, "upload", false, "Upload screenshots to object storage")
	flags.BoolVar(&opts.keep, "keep-screenshots", false, "Keep screenshot files after upload")
	flags.BoolVar(&opts.torrent, "torrent", true, "Create a torrent per tracker")
	flags.BoolVar(&opts.publish, "publish", true, "Write the description file")
	flags.BoolVar(&opts.xml, "xml", false, "Write the upload descriptor")
	return cmd
}

func anyChanged(cmd *cobra.Command, names ...string) bool {
	for _, n := range names {
		if cmd.Flags().Changed(n) {
			return true
		}
	}
	return false
}

func overrideBool(cmd *cobra.Command, name string, value bool, dst *bool) {
	if cmd.Flags().Changed(name) {
		*dst = value
	}
}

// eventPrinter writes status lines for every task it is subscribed to.
type eventPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
	last  map[string]int
}

func newEventPrinter(out io.Writer, color bool) *eventPrinter {
	return &eventPrinter{out: out, color: color, last: make(map[string]int)}
}

func (p *eventPrinter) HandleEvent(e pipeline.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := e.Info.Settings.Media.Name()
	switch e.Kind {
	case pipeline.EventStatusChanged:
		fmt.Fprintf(p.out, "[%s] %s\n", name, e.Info.StatusMessage)
	case pipeline.EventUploaderConfigRequired:
		fmt.Fprintf(p.out, "[%s] %s\n", name, colorize(e.Info.StatusMessage, false, p.color))
	case pipeline.EventUploadProgressChanged:
		p.progress(name, "upload", e.TaskID+"/upload", e.Info.UploadProgress)
	case pipeline.EventTorrentProgressChanged:
		p.progress(name, "hashing", e.TaskID+"/torrent", e.Info.TorrentProgress)
	case pipeline.EventTaskCompleted:
		verdict := "succeeded"
		if !e.Success {
			verdict = "failed"
		}
		fmt.Fprintf(p.out, "[%s] %s %s\n", name, e.Info.StatusMessage, colorize(verdict, e.Success, p.color))
	}
}

// progress prints at most one line per 25% step.
func (p *eventPrinter) progress(name, label, key string, percent float64) {
	step := int(percent) / 25
	if percent < 100 && step == 0 {
		return
	}
	if prev, ok := p.last[key]; ok && step <= prev {
		return
	}
	p.last[key] = step
	fmt.Fprintf(p.out, "[%s] %s %.0f%%\n", name, label, percent)
}

func renderSummary(tasks []*pipeline.Task, fancy bool) string {
	headers := []string{"Media", "Type", "Result", "Duration", "Artifacts"}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		info := t.Info()
		result := "ok"
		if !t.Success() {
			result = "failed"
		}
		rows = append(rows, []string{
			info.Settings.Media.Name(),
			string(info.Settings.Media.Type),
			colorize(result, t.Success(), fancy),
			info.Duration().Round(time.Second).String(),
			artifactSummary(info),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft}, fancy)
}

func artifactSummary(info domain.TaskInfo) string {
	var parts []string
	if info.PublishPath != "" {
		parts = append(parts, "txt")
	}
	if n := len(info.TorrentFiles); n > 0 {
		parts = append(parts, humanize.Comma(int64(n))+" torrent")
	}
	if info.DescriptorPath != "" {
		parts = append(parts, "xml")
	}
	shots := 0
	files := info.Settings.Media.Files
	if info.Settings.Media.Overall != nil {
		files = append(files, *info.Settings.Media.Overall)
	}
	for _, f := range files {
		for _, s := range f.Screenshots {
			if s.Uploaded() {
				shots++
			}
		}
	}
	if shots > 0 {
		parts = append(parts, fmt.Sprintf("%d uploaded", shots))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

// ABOUTME: Main player application orchestration
// ABOUTME: Coordinates discovery, clock sync, clip loading, the loop driver and UI
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/loopsync/loopsync-go/internal/audio"
	"github.com/loopsync/loopsync-go/internal/client"
	"github.com/loopsync/loopsync-go/internal/config"
	"github.com/loopsync/loopsync-go/internal/discovery"
	"github.com/loopsync/loopsync-go/internal/media"
	"github.com/loopsync/loopsync-go/internal/player"
	"github.com/loopsync/loopsync-go/internal/protocol"
	"github.com/loopsync/loopsync-go/internal/sync"
	"github.com/loopsync/loopsync-go/internal/ui"
	"github.com/loopsync/loopsync-go/internal/version"
)

const (
	statusInterval  = 500 * time.Millisecond
	settingsTimeout = 5 * time.Second
)

// clipOutput is the audio sink the scheduler drives
type clipOutput interface {
	player.AudioPlayer
	Initialize(format audio.Format) error
	Load(clip *audio.Clip) error
	SetVolume(volume int)
	SetMuted(muted bool)
	Close() error
}

// Config holds player configuration
type Config struct {
	Settings *config.Config
	UseTUI   bool
}

// Player represents the main player application
type Player struct {
	config  *config.Config
	useTUI  bool
	baseURL string // resolved server url
	server  string // display name

	clock     *sync.MonotonicClock
	timeRef   sync.TimeReference
	clockSync *sync.ClockSync
	backend   *client.Backend
	reporter  *client.Reporter
	media     *media.Cache
	clip      *audio.Clip
	output    clipOutput
	scheduler *player.Scheduler
	driver    *player.Driver

	volumeCtrl *ui.VolumeControl
	tuiProg    *tea.Program

	started  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       gosync.WaitGroup
	stopOnce gosync.Once
}

// New creates a new player
func New(cfg Config) *Player {
	ctx, cancel := context.WithCancel(context.Background())

	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}

	clock := sync.NewMonotonicClock()

	return &Player{
		config:  settings,
		useTUI:  cfg.UseTUI,
		clock:   clock,
		output:  player.NewOutput(clock),
		started: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start sets up every component, starts the loop and blocks until Stop
func (p *Player) Start() error {
	if err := p.config.Validate(); err != nil {
		return err
	}

	if err := p.resolveServer(); err != nil {
		return err
	}
	if err := p.connect(); err != nil {
		return err
	}

	// Started after connect so the volume reflects the server settings
	if p.useTUI {
		p.volumeCtrl = ui.NewVolumeControl(p.config.Player.Volume)
		tuiProg, err := ui.Run(p.volumeCtrl)
		if err != nil {
			return fmt.Errorf("failed to start TUI: %w", err)
		}
		p.tuiProg = tuiProg

		go func() {
			if _, err := p.tuiProg.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
			p.cancel()
		}()
	}

	if err := p.loadClip(); err != nil {
		return err
	}
	if p.ctx.Err() != nil {
		return nil
	}

	// Sync once before the first loop so the first timestamp is meaningful
	result := p.clockSync.RunSync(p.ctx)
	log.Printf("Initial clock sync: %s (offset %dms, %d/%d probes kept)",
		result.Outcome, result.Offset, result.Kept, result.Probes)

	p.scheduler = player.NewScheduler(p.clockSync, p.reporter, player.SchedulerConfig{
		SyncWindowCapMs: p.config.Sync.SyncWindowCapMs,
	})
	p.scheduler.OnTransition(func(from, to player.State) {
		if to == player.StateStarting && from != player.StateIdle {
			log.Printf("Loop boundary reached")
		}
	})
	p.scheduler.Load(p.output)

	p.driver = player.NewDriver(p.scheduler, player.DriverConfig{
		SafetyMargin: p.config.Driver.SafetyMargin,
		PollInterval: p.config.Driver.PollInterval,
		IdleInterval: p.config.Driver.IdleInterval,
		MaxSleep:     p.config.Driver.MaxSleep,
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.driver.Run(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Driver stopped: %v", err)
		}
	}()

	if p.volumeCtrl != nil {
		p.wg.Add(2)
		go p.handleVolumeControl()
		go p.statsUpdateLoop()
	}

	log.Printf("Looping %s (%s, %dms)", p.clip.Path, p.clip.Format.Codec, p.clip.DurationMs)
	close(p.started)

	// Wait for context cancellation
	<-p.ctx.Done()

	return nil
}

// resolveServer uses the configured url or discovers one via mDNS
func (p *Player) resolveServer() error {
	if p.config.Server.URL != "" {
		p.baseURL = p.config.Server.URL
		p.server = hostOf(p.config.Server.URL)
		return nil
	}

	log.Printf("No server configured, browsing for %s", discovery.ServiceType)
	ctx, cancel := context.WithTimeout(p.ctx, discovery.DefaultBrowseTimeout)
	defer cancel()

	info, err := discovery.FindServer(ctx)
	if err != nil {
		return fmt.Errorf("discover server: %w", err)
	}

	p.baseURL = info.URL()
	p.server = info.Name
	log.Printf("Discovered server %s at %s", info.Name, p.baseURL)
	return nil
}

// connect builds the time reference, clock sync and backend reporter
func (p *Player) connect() error {
	ref, err := newTimeReference(p.config, p.baseURL)
	if err != nil {
		return err
	}
	p.timeRef = ref

	p.clockSync = sync.NewClockSync(p.clock, ref, sync.Config{
		SampleCount:  p.config.Sync.SampleCount,
		ProbeTimeout: p.config.Server.ProbeTimeout,
		Filter:       p.config.FilterMode(),
	})

	backend, err := client.NewBackend(client.HTTPConfig{
		BaseURL:  p.baseURL,
		Password: p.config.Server.Password,
	})
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	p.backend = backend
	p.reporter = client.NewReporter(backend, p.config.Player.ID)

	p.applyServerSettings()
	return nil
}

// newTimeReference creates the configured transport to the time reference
func newTimeReference(cfg *config.Config, baseURL string) (sync.TimeReference, error) {
	switch cfg.Server.Transport {
	case config.TransportWebSocket:
		return client.NewWSTimeReference(client.WSConfig{
			ServerURL: baseURL,
			Password:  cfg.Server.Password,
			Name:      cfg.Player.Name,
			Version:   1,
			PlayerID:  cfg.Player.ID,
			DeviceInfo: protocol.DeviceInfo{
				ProductName:     version.Product,
				Manufacturer:    version.Manufacturer,
				SoftwareVersion: version.Version,
			},
		})
	default:
		return client.NewHTTPTimeReference(client.HTTPConfig{
			BaseURL:  baseURL,
			Password: cfg.Server.Password,
			Timeout:  cfg.Server.ProbeTimeout,
		})
	}
}

// applyServerSettings takes the volume stored for this player on the server
func (p *Player) applyServerSettings() {
	if p.config.Player.ID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, settingsTimeout)
	defer cancel()

	record, err := p.backend.GetMediaPlayer(ctx, p.config.Player.ID)
	if err != nil {
		log.Printf("Could not fetch player settings: %v", err)
		return
	}

	if record.Volume >= 0 && record.Volume <= 100 {
		p.config.Player.Volume = record.Volume
	}
	log.Printf("Player %q settings: volume %d", record.Nickname, p.config.Player.Volume)
}

// loadClip fetches, decodes and loads the configured clip into the output
func (p *Player) loadClip() error {
	if p.config.Player.Clip == "" {
		return fmt.Errorf("%w: player.clip is required", config.ErrInvalid)
	}

	cache, err := media.NewCache(p.config.Player.MediaDir)
	if err != nil {
		return fmt.Errorf("media cache: %w", err)
	}
	p.media = cache

	path, err := cache.Fetch(p.ctx, p.config.Player.Clip)
	if err != nil {
		return fmt.Errorf("fetch clip: %w", err)
	}

	clip, err := audio.LoadClip(path)
	if err != nil {
		return fmt.Errorf("load clip: %w", err)
	}
	p.clip = clip

	if err := p.output.Initialize(clip.Format); err != nil {
		return fmt.Errorf("initialize output: %w", err)
	}
	if err := p.output.Load(clip); err != nil {
		return fmt.Errorf("load output: %w", err)
	}
	p.output.SetVolume(p.config.Player.Volume)
	return nil
}

// handleVolumeControl applies TUI volume, mute and resync requests
func (p *Player) handleVolumeControl() {
	defer p.wg.Done()

	for {
		select {
		case change := <-p.volumeCtrl.Changes:
			p.output.SetVolume(change.Volume)
			p.output.SetMuted(change.Muted)
			log.Printf("Volume: %d, muted: %v", change.Volume, change.Muted)

		case <-p.volumeCtrl.Resync:
			result := p.clockSync.RunSync(p.ctx)
			log.Printf("Manual resync: %s (offset %dms)", result.Outcome, result.Offset)

		case <-p.volumeCtrl.Quit:
			p.cancel()
			return

		case <-p.ctx.Done():
			return
		}
	}
}

// statsUpdateLoop periodically pushes status to the TUI
func (p *Player) statsUpdateLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p.tuiProg != nil {
				p.tuiProg.Send(p.status())
			}

		case <-p.ctx.Done():
			return
		}
	}
}

// status snapshots sync and playback for the TUI
func (p *Player) status() ui.StatusMsg {
	msg := ui.StatusMsg{
		ServerName: p.server,
		Transport:  p.config.Server.Transport,
	}

	if p.clockSync != nil {
		offset, rtt, quality, failures := p.clockSync.Stats()
		status := &ui.SyncStatus{
			Offset:   offset,
			RTT:      rtt,
			Quality:  quality,
			Failures: failures,
			History:  p.clockSync.History(),
		}
		if last, ok := p.clockSync.LastResult(); ok {
			status.LastOutcome = last.Outcome.String()
		}
		msg.Sync = status
	}

	if p.clip != nil {
		msg.Clip = p.clip.Path
		msg.Codec = p.clip.Format.Codec
		msg.DurationMs = p.clip.DurationMs
	}

	if p.scheduler != nil {
		msg.Playback = &ui.PlaybackStatus{
			State:         p.scheduler.State().String(),
			RemainingMs:   p.output.RemainingMs(),
			Loops:         p.scheduler.Loops(),
			LastTimestamp: p.scheduler.LastTimestamp(),
		}
	}

	return msg
}

// Stop stops the player and releases every component
func (p *Player) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()

		if p.scheduler != nil {
			p.scheduler.Unload()
		}
		if p.reporter != nil {
			p.reporter.Close()
		}
		if closer, ok := p.timeRef.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Printf("Error closing time reference: %v", err)
			}
		}
		if p.output != nil {
			if err := p.output.Close(); err != nil {
				log.Printf("Error closing audio output: %v", err)
			}
		}
		if p.tuiProg != nil {
			p.tuiProg.Quit()
		}
	})
}

// Started is closed once the loop is running
func (p *Player) Started() <-chan struct{} {
	return p.started
}

// Scheduler returns the loop scheduler. Valid after Started is closed.
func (p *Player) Scheduler() *player.Scheduler {
	return p.scheduler
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

// voxd runs a realtime voice session against the local microphone and
// speaker and serves the dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/buzzwordmojo/vox-reactor/internal/config"
	"github.com/buzzwordmojo/vox-reactor/internal/log"
	"github.com/buzzwordmojo/vox-reactor/pkg/audio"
	"github.com/buzzwordmojo/vox-reactor/pkg/audioio"
	"github.com/buzzwordmojo/vox-reactor/pkg/conversation"
	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
	"github.com/buzzwordmojo/vox-reactor/pkg/realtime/bundled"
	"github.com/buzzwordmojo/vox-reactor/pkg/vad"
	"github.com/buzzwordmojo/vox-reactor/pkg/voice"
	"github.com/buzzwordmojo/vox-reactor/pkg/web"
)

type flags struct {
	configPath string
	envFile    string
	provider   string
	listen     string
	logLevel   string
	device     string
	toolsURL   string
	static     string
	clientVAD  bool
	idle       bool
	noFallback bool
	noConnect  bool
}

func main() {
	f := parseFlags()

	if err := config.LoadDotEnv(envFiles(f.envFile)...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if f.logLevel == "" {
		f.logLevel = config.String(config.EnvLogLevel, config.DefaultLogLevel)
	}
	log.Init(f.logLevel)
	logger := log.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, f, logger); err != nil {
		logger.Error("voxd failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "YAML session file")
	flag.StringVar(&f.envFile, "env", "", ".env file to load (default ./.env)")
	flag.StringVar(&f.provider, "provider", "", "Realtime provider: openai or xai (overrides "+config.EnvProvider+")")
	flag.StringVar(&f.listen, "listen", "", "Dashboard address (overrides "+config.EnvListenAddr+")")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&f.device, "device", "", "Capture device (default: auto-select)")
	flag.StringVar(&f.toolsURL, "tools-url", "", "Server endpoint for tools without a local handler")
	flag.StringVar(&f.static, "static", "", "Directory served at / by the dashboard")
	flag.BoolVar(&f.clientVAD, "client-vad", false, "Enable client-side barge-in detection")
	flag.BoolVar(&f.idle, "idle", false, "Enable idle coaching prompts")
	flag.BoolVar(&f.noFallback, "no-fallback", false, "Do not fall back to the other provider")
	flag.BoolVar(&f.noConnect, "no-connect", false, "Start the dashboard without connecting")
	flag.Parse()
	return f
}

func envFiles(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path}
}

func run(ctx context.Context, f flags, logger *slog.Logger) error {
	cfg, err := buildConfig(f)
	if err != nil {
		return err
	}

	audioCfg := audioio.DefaultConfig()
	audioCfg.Device = f.device
	if audioCfg.Device == "" {
		audioCfg.Device = pickMicrophone(logger)
	}

	meter := vad.NewMeter()
	factories := bundled.Factories(
		bundled.WithLogger(logger),
		bundled.WithAudioConfig(audioCfg),
		bundled.WithMicTap(func(chunk audioio.AudioChunk) { meter.Write(chunk.Mono().Samples) }),
	)

	sinkCfg := audioio.DefaultConfig().WithSampleRate(cfg.PlaybackRate)
	sink, err := audioio.NewSink(sinkCfg, logger)
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer sink.Close()
	if err := sink.Start(ctx); err != nil {
		return fmt.Errorf("start speaker: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// The dashboard is created after the session, so notifications are
	// routed through this variable.
	var server *web.Server
	notify := func(message string, variant conversation.Variant) {
		if server != nil {
			server.Notify(message, variant)
		}
		logger.Info("notification", "variant", variant, "message", message)
	}

	opts := []voice.Option{
		voice.WithLogger(logger),
		voice.WithFactories(factories),
		voice.WithRegisterer(reg),
		voice.WithPlaybackDevice(audio.NewSinkDevice(sink, cfg.PlaybackRate)),
		voice.WithLevelSource(meter),
		voice.WithNotifier(notify),
		voice.WithImportedData(func(data map[string]any) {
			logger.Info("imported data", "keys", len(data))
		}),
	}
	if f.toolsURL != "" {
		opts = append(opts, voice.WithServerTools((&conversation.HTTPHandler{URL: f.toolsURL}).Handle))
	}

	session, err := voice.NewSession(cfg, tokenFunc(), opts...)
	if err != nil {
		return err
	}
	defer session.Disconnect()

	session.History().Subscribe(printTranscript())

	webOpts := []web.Option{web.WithLogger(logger), web.WithGatherer(reg)}
	if f.static != "" {
		webOpts = append(webOpts, web.WithStatic(f.static))
	}
	server = web.NewServer(session, webOpts...)
	defer server.Close()

	if !f.noConnect {
		if err := session.Connect(ctx); err != nil {
			logger.Warn("connect failed; use the dashboard to retry", "error", err)
		}
	}

	addr := f.listen
	if addr == "" {
		addr = config.String(config.EnvListenAddr, config.DefaultListenAddr)
	}
	logger.Info("dashboard listening", "addr", addr)
	return server.Listen(ctx, addr)
}

// buildConfig layers defaults, the session file, the environment and
// flags, in that order.
func buildConfig(f flags) (voice.Config, error) {
	cfg := voice.DefaultConfig()

	if f.configPath != "" {
		file, err := config.LoadFile(f.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = applyFile(cfg, file)
	}

	if p := config.String(config.EnvProvider, ""); p != "" {
		cfg.Provider = realtime.ProviderName(p)
	}
	cfg.AutoFallback = config.Bool(config.EnvAutoFallback, cfg.AutoFallback)

	if f.provider != "" {
		cfg.Provider = realtime.ProviderName(f.provider)
	}
	if f.noFallback {
		cfg.AutoFallback = false
	}
	if f.clientVAD {
		cfg.ClientVAD = true
	}
	if f.idle {
		cfg.IdleCoaching = true
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFile(cfg voice.Config, file *config.File) voice.Config {
	if file.Provider != "" {
		cfg.Provider = realtime.ProviderName(file.Provider)
	}
	if file.AutoFallback != nil {
		cfg.AutoFallback = *file.AutoFallback
	}
	cfg.Session.Instructions = file.Instructions
	cfg.Session.Voice = file.Voice
	cfg.Session.VADThreshold = file.VADThreshold
	cfg.Session.SilenceDurationMs = file.SilenceDurationMs
	cfg.Session.TranscriptionModel = file.TranscriptionModel

	var tools []realtime.ToolDefinition
	if nav := file.Navigation; nav != nil && len(nav.Routes) > 0 {
		tools = append(tools, realtime.NavigationTool(nav.Routes, nav.Aliases))
	}
	for _, t := range file.Tools {
		tools = append(tools, realtime.NewTool(t.Name, t.Description, t.Parameters))
	}
	cfg.Session.Tools = tools

	cfg.MuteMicWhileSpeaking = file.MuteWhileSpeaking
	cfg.ClientVAD = file.ClientVAD
	if file.IdleTimeout > 0 {
		cfg.IdleCoaching = true
		cfg.IdleTimeout = file.IdleTimeout
	}
	if file.IdlePrompt != "" {
		cfg.IdlePrompt = file.IdlePrompt
	}
	return cfg
}

// tokenFunc prefers an application token endpoint over raw API keys.
func tokenFunc() realtime.TokenFunc {
	if url := config.String(config.EnvTokenURL, ""); url != "" {
		return (&realtime.HTTPTokenSource{URL: url}).TokenFunc()
	}
	return realtime.StaticTokens(map[realtime.ProviderName]string{
		realtime.ProviderOpenAI: config.APIKey(string(realtime.ProviderOpenAI)),
		realtime.ProviderXAI:    config.APIKey(string(realtime.ProviderXAI)),
	})
}

// pickMicrophone lists ALSA capture devices. It returns "" (the backend
// default) when listing is unavailable.
func pickMicrophone(logger *slog.Logger) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	out, err := exec.Command("arecord", "-l").Output()
	if err != nil {
		logger.Debug("arecord -l failed", "error", err)
		return ""
	}
	dev, strategy, ok := audioio.SelectMicrophone(audioio.ParseARecordList(string(out)))
	if !ok {
		return ""
	}
	logger.Info("microphone selected", "device", dev.ID, "label", dev.Label, "strategy", strategy)
	return dev.ID
}

func printTranscript() conversation.Listener {
	printed := 0
	return func(msgs []conversation.Message) {
		if len(msgs) < printed {
			printed = 0
		}
		for _, m := range msgs[printed:] {
			fmt.Printf("%s: %s\n", m.Role, m.Content)
		}
		printed = len(msgs)
	}
}

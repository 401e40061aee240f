package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ltelink/config"
	"ltelink/db"
	"ltelink/linkctl"
	"ltelink/modem"
	"ltelink/power"
	"ltelink/timers"

	"github.com/pion/logging"
)

// go build -ldflags "-X 'main.DEBUG_MODE=false'" .
var DEBUG_MODE string = "true"
var FW_VERSION string = "0.2.0 (19.10.2026)"

const powerOffWait = 5 * time.Second

var (
	configPath = flag.String("config", "", "Path to YAML configuration file")
	portFlag   = flag.String("port", "", "Serial device of the modem (overrides config)")
	levelFlag  = flag.String("log-level", "", "Log level: disabled, error, warn, info, debug, trace")
	dbFlag     = flag.String("db", "", "Path to the sqlite status database (overrides config)")
	once       = flag.Bool("once", false, "Connect, report and exit instead of polling")
)

// linkReader is what a status snapshot needs from the controller.
type linkReader interface {
	State() linkctl.State
	Mode() linkctl.NetworkMode
	ReadRegistration() (linkctl.Registration, error)
}

// linkControl is what a poll needs from the controller.
type linkControl interface {
	linkReader
	Offline() error
	Connect() error
}

// modemInfo is what a status snapshot needs from the modem.
type modemInfo interface {
	Status() modem.Status
	Operator() (string, error)
	SignalQuality() (rsrp int, ok bool, err error)
}

func main() {
	flag.Parse()

	f := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			os.Stderr.WriteString(err.Error() + "\n")
			os.Exit(2)
		}
		f = *loaded
	}
	if *portFlag != "" {
		f.Modem.Port = *portFlag
	}
	if *dbFlag != "" {
		f.DB = *dbFlag
	}
	if *levelFlag != "" {
		f.LogLevel = *levelFlag
	} else if DEBUG_MODE == "true" {
		f.LogLevel = "debug"
	}

	level, err := config.ParseLogLevel(f.LogLevel)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = level
	log := lf.NewLogger("main")

	log.Infof("ltelink %s", FW_VERSION)
	if err := run(f, lf, log); err != nil {
		log.Errorf("⚠️ %v", err)
		os.Exit(1)
	}
	log.Info("👋 Goodbye")
}

func run(f config.File, lf logging.LoggerFactory, log logging.LeveledLogger) error {
	// Create a global context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create signal handlers for interrupts or shutdown requests
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			log.Info("Interrupt detected, exiting")
			cancel()
		case <-ctx.Done():
		}
	}()

	if f.Modem.PowerKey != "" {
		log.Infof("🔌 Pulsing modem power key on %s", f.Modem.PowerKey)
		if err := power.PulseKey(ctx, f.Modem.PowerKey, f.Modem.PowerPulse); err != nil {
			return err
		}
	}

	lc, err := f.LinkConfig(lf)
	if err != nil {
		return err
	}

	store, err := db.Open(f.DB, lf)
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := modem.Open(f.ModemConfig(lf))
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Setup(); err != nil {
		return err
	}
	if status, err := m.SIMStatus(); err != nil || status != "READY" {
		log.Warnf("SIM not ready (%q): %v", status, err)
	}

	ctl, err := linkctl.New(m, lc)
	if err != nil {
		return err
	}
	// A release build leaves the radio off on exit. A connect abandoned on
	// interrupt still holds the controller, so the wait is bounded.
	if DEBUG_MODE != "true" {
		defer func() {
			offCtx, cancel := context.WithTimeout(context.Background(), powerOffWait)
			defer cancel()
			if err := await(offCtx, ctl.PowerOff); err != nil {
				log.Warnf("Could not power off modem: %v", err)
			}
		}()
	}

	if f.Link.PSM.RequestOnStart {
		if err := ctl.PSMRequest(true); err != nil {
			return err
		}
	}

	connectErr := await(ctx, ctl.InitAndConnect)
	if ctx.Err() != nil {
		return nil
	}

	if connectErr == nil {
		if tau, active, err := ctl.PSMGet(); err == nil {
			log.Infof("PSM granted: TAU %s, active time %s", tau, active)
		}
	}
	save(store, snapshot(ctl, m, connectErr), log)

	if *once || f.PollInterval == 0 {
		return connectErr
	}
	if connectErr != nil {
		log.Warnf("Initial connect failed, retrying every %s: %v", f.PollInterval, connectErr)
	}

	pollAndSave := func() {
		rec := poll(ctx, ctl, m, log)
		if ctx.Err() != nil {
			return
		}
		save(store, rec, log)
	}
	poller := timers.New(ctx, f.PollInterval, false, pollAndSave)
	defer poller.Stop()

	// SIGUSR1 polls right away and pushes the next periodic poll a full
	// interval out.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	log.Info("Press CTRL+C to quit")
	for {
		select {
		case <-usr1:
			log.Info("Poll requested")
			poller.Reset()
			pollAndSave()
		case <-ctx.Done():
			return nil
		}
	}
}

// await runs fn on its own goroutine. Connect can block for two full
// timeouts, so the caller gives up when ctx ends and gets ctx.Err().
func await(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll records the link status and reconnects when the device is no longer
// registered.
func poll(ctx context.Context, l linkControl, m modemInfo, log logging.LeveledLogger) db.LinkRecord {
	rec := snapshot(l, m, nil)
	if rec.Registered {
		return rec
	}

	log.Info("Link lost, reconnecting")
	// The system mode can only be changed while the radio is off.
	if err := l.Offline(); err != nil {
		return snapshot(l, m, err)
	}
	err := await(ctx, l.Connect)
	if ctx.Err() != nil {
		return rec
	}
	return snapshot(l, m, err)
}

// snapshot collects the current link status. A failed connect is recorded
// as is without querying the modem.
func snapshot(l linkReader, m modemInfo, connectErr error) db.LinkRecord {
	rec := db.LinkRecord{
		Time:  time.Now().UTC(),
		State: l.State().String(),
		Mode:  l.Mode().String(),
	}
	if connectErr != nil {
		rec.Error = connectErr.Error()
		return rec
	}

	rec.AccessTech = m.Status().AccessTech
	if op, err := m.Operator(); err == nil {
		rec.Operator = op
	}
	if rsrp, ok, err := m.SignalQuality(); err == nil && ok {
		rec.RSRP = rsrp
	}

	r, err := l.ReadRegistration()
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	rec.Registered = r.Status.Registered()
	rec.Registration = r.Status.String()
	rec.TAU = r.TAU.String()
	rec.ActiveTime = r.ActiveTime.String()
	return rec
}

func save(store *db.Store, rec db.LinkRecord, log logging.LeveledLogger) {
	if err := store.Set(db.KeyLastLink, rec); err != nil {
		log.Warnf("Could not store link status: %v", err)
		return
	}
	log.Debugf("Link status: %s/%s %s", rec.State, rec.Mode, rec.Registration)
}

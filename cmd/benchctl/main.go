package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"benchlab/pkg/drivers/agilent"
	"benchlab/pkg/drivers/fluke"
	"benchlab/pkg/drivers/gloptic"
	"benchlab/pkg/drivers/rohde"
	"benchlab/pkg/drivers/tti"
	"benchlab/pkg/instrument"
	"benchlab/pkg/journal"
	"benchlab/pkg/telemetry"
	"benchlab/pkg/transport"
)

var modelNames = []string{
	"agilent-dmm", "fluke-dmm",
	"hmp4040", "hmp2030", "hmp2020",
	"tti3", "tti2", "tti1", "ql2", "ql1",
	"gloptic",
}

// consoleConfirm is the interactive authorization gate. Anything but a
// case-insensitive "y" declines.
func consoleConfirm(prompt string) bool {
	rl, err := readline.New(prompt)
	if err != nil {
		log.Errorf("cannot read confirmation: %v", err)
		return false
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func newDevice(c *cli.Context) (instrument.Device, error) {
	model := c.String("model")
	port := c.String("port")

	opts := []instrument.Option{
		instrument.WithConfirm(consoleConfirm),
	}
	// Serial instruments can also sit behind a TCP serial bridge such
	// as ser2net.
	if addr := c.String("addr"); addr != "" && model != "gloptic" {
		opts = append(opts, instrument.WithDialer(transport.NewTCPDialer(addr)))
	}

	switch model {
	case "agilent-dmm":
		return agilent.NewDMM(port, opts...), nil
	case "fluke-dmm":
		return fluke.NewDMM(port, opts...), nil
	case "hmp4040":
		return rohde.NewHMP4040(port, opts...), nil
	case "hmp2030":
		return rohde.NewHMP2030(port, opts...), nil
	case "hmp2020":
		return rohde.NewHMP2020(port, opts...), nil
	case "tti3":
		return tti.New3Ch(port, opts...), nil
	case "tti2":
		return tti.New2Ch(port, opts...), nil
	case "tti1":
		return tti.New1Ch(port, opts...), nil
	case "ql2":
		return tti.NewQL2Ch(port, opts...), nil
	case "ql1":
		return tti.NewQL1Ch(port, opts...), nil
	case "gloptic":
		addr := c.String("addr")
		if addr == "" {
			addr = gloptic.DefaultAddr
		}
		var glOpts []gloptic.Option
		if dump := c.String("dump"); dump != "" {
			glOpts = append(glOpts, gloptic.WithDumpPrefix(dump))
		}
		return gloptic.New(addr, glOpts...), nil
	case "":
		return nil, fmt.Errorf("--model is required (known: %s)", strings.Join(modelNames, ", "))
	default:
		return nil, fmt.Errorf("unknown model %q (known: %s)", model, strings.Join(modelNames, ", "))
	}
}

func openDevice(c *cli.Context) (instrument.Device, error) {
	dev, err := newDevice(c)
	if err != nil {
		return nil, err
	}
	if err := dev.Initialize(); err != nil {
		return nil, err
	}
	return dev, nil
}

// resolveEngageSet expands an empty channel list to the device's full
// channel range, the same meaning an empty list has for disengage.
func resolveEngageSet(psu instrument.OutputDevice, channels []int) []int {
	if len(channels) > 0 {
		return channels
	}
	if dev, ok := psu.(interface{ AllChannels() []int }); ok {
		return dev.AllChannels()
	}
	return channels
}

func parseChannels(arg string) ([]int, error) {
	if arg == "" {
		return nil, nil
	}
	var channels []int
	for _, field := range strings.Split(arg, ",") {
		ch, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("invalid channel list %q: %v", arg, err)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func runIDN(c *cli.Context) error {
	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Finalize()

	id, err := dev.IDN()
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runBeep(c *cli.Context) error {
	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Finalize()

	return dev.Beep()
}

func runRead(c *cli.Context) error {
	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Finalize()

	channel := c.Int("channel")
	readings, err := dev.GetInput(channel)
	if err != nil {
		return err
	}
	for _, r := range readings {
		fmt.Printf("CH%d: %s %s\n", channel, r.Value, r.Unit)
	}

	if path := c.String("journal"); path != "" {
		store, err := journal.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		id, _ := dev.IDN()
		return store.Append(journal.Entry{
			Taken:    time.Now(),
			Device:   id,
			Channel:  channel,
			Readings: readings,
		})
	}
	return nil
}

func runSet(c *cli.Context) error {
	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Finalize()

	return dev.SetOutput(c.Int("channel"), instrument.OutputParams{
		Voltage: c.Float64("voltage"),
		Current: c.Float64("current"),
	})
}

func runEngage(c *cli.Context) error {
	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Finalize()

	psu, ok := dev.(instrument.OutputDevice)
	if !ok {
		return fmt.Errorf("model %q has no switchable outputs", c.String("model"))
	}

	channels, err := parseChannels(c.String("channels"))
	if err != nil {
		return err
	}

	result, err := psu.EngageOutput(resolveEngageSet(psu, channels), !c.Bool("yes"))
	if err != nil {
		return err
	}
	if result == 0 {
		log.Warn("outputs were not engaged")
	}
	return nil
}

func runDisengage(c *cli.Context) error {
	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Finalize()

	psu, ok := dev.(instrument.OutputDevice)
	if !ok {
		return fmt.Errorf("model %q has no switchable outputs", c.String("model"))
	}

	channels, err := parseChannels(c.String("channels"))
	if err != nil {
		return err
	}
	return psu.DisengageOutput(channels...)
}

func runMeasure(c *cli.Context) error {
	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Finalize()

	spec, ok := dev.(*gloptic.Spectrometer)
	if !ok {
		return fmt.Errorf("the measure command needs the gloptic model")
	}

	m, err := spec.Measure()
	if err != nil {
		return err
	}

	fmt.Println("results:")
	for name, value := range m.Results {
		fmt.Printf("  %s: %s\n", name, value)
	}
	fmt.Printf("spectrum: %d samples\n", len(m.Data.SpectrumX))
	return nil
}

func formatEntries(entries []journal.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		for _, r := range e.Readings {
			fmt.Fprintf(&b, "%s %s CH%d: %s %s\n", e.Taken.Format(time.RFC3339), e.Device, e.Channel, r.Value, r.Unit)
		}
	}
	return b.String()
}

func runJournalList(c *cli.Context) error {
	store, err := journal.Open(c.String("journal"))
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(c.String("device"), c.Int("limit"))
	if err != nil {
		return err
	}
	fmt.Print(formatEntries(entries))
	return nil
}

func runMonitor(c *cli.Context) error {
	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Finalize()

	id, _ := dev.IDN()
	channel := c.Int("channel")

	var store *journal.Store
	if path := c.String("journal"); path != "" {
		if store, err = journal.Open(path); err != nil {
			return err
		}
		defer store.Close()
	}

	var pub *telemetry.Publisher
	if broker := c.String("broker"); broker != "" {
		pub, err = telemetry.Connect(telemetry.Config{
			Broker:   broker,
			ClientID: "benchctl",
			Topic:    c.String("topic"),
			Username: c.String("mqtt-username"),
			Password: c.String("mqtt-password"),
		}, log.StandardLogger())
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(c.Duration("interval"))
	defer ticker.Stop()

	log.Infof("monitoring %s channel %d every %s", id, channel, c.Duration("interval"))
	for {
		select {
		case <-ctx.Done():
			log.Info("monitor stopped")
			return nil
		case <-ticker.C:
			readings, err := dev.GetInput(channel)
			if err != nil {
				log.Errorf("read failed: %v", err)
				continue
			}
			taken := time.Now()
			for _, r := range readings {
				fmt.Printf("%s CH%d: %s %s\n", taken.Format(time.RFC3339), channel, r.Value, r.Unit)
			}
			if store != nil {
				if err := store.Append(journal.Entry{Taken: taken, Device: id, Channel: channel, Readings: readings}); err != nil {
					log.Errorf("journal append failed: %v", err)
				}
			}
			if pub != nil {
				if err := pub.Publish(telemetry.Message{Taken: taken, Device: id, Channel: channel, Readings: readings}); err != nil {
					log.Errorf("publish failed: %v", err)
				}
			}
		}
	}
}

func main() {
	channelFlag := &cli.IntFlag{
		Name:    "channel",
		Aliases: []string{"c"},
		Usage:   "channel number (1-based)",
		Value:   1,
	}
	journalFlag := &cli.StringFlag{
		Name:    "journal",
		Usage:   "append readings to this journal database",
		EnvVars: []string{"BENCHCTL_JOURNAL"},
	}
	channelsFlag := &cli.StringFlag{
		Name:  "channels",
		Usage: "comma separated channel list, empty means all channels",
	}

	app := cli.App{
		Name:  "benchctl",
		Usage: "control bench test and measurement instruments",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "instrument model: " + strings.Join(modelNames, ", "),
				EnvVars: []string{"BENCHCTL_MODEL"},
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "serial port, e.g. COM3 or /dev/ttyUSB0",
				EnvVars: []string{"BENCHCTL_PORT"},
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "TCP address: the SpectroSoft endpoint for gloptic, or a serial bridge for serial models",
				EnvVars: []string{"BENCHCTL_ADDR"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "idn",
				Usage:  "print the instrument identity",
				Action: runIDN,
			},
			{
				Name:   "beep",
				Usage:  "ask the instrument to make a sound",
				Action: runBeep,
			},
			{
				Name:   "read",
				Usage:  "read a measurement channel",
				Flags:  []cli.Flag{channelFlag, journalFlag},
				Action: runRead,
			},
			{
				Name:  "set",
				Usage: "set output voltage and current limits on a channel",
				Flags: []cli.Flag{
					channelFlag,
					&cli.Float64Flag{Name: "voltage", Aliases: []string{"v"}, Usage: "voltage limit in Volt"},
					&cli.Float64Flag{Name: "current", Aliases: []string{"i"}, Usage: "current limit in Ampere"},
				},
				Action: runSet,
			},
			{
				Name:  "engage",
				Usage: "engage outputs on the given channels",
				Flags: []cli.Flag{
					channelsFlag,
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip the confirmation prompt (dangerous for your DUT)"},
				},
				Action: runEngage,
			},
			{
				Name:   "disengage",
				Usage:  "disengage outputs on the given channels, or all",
				Flags:  []cli.Flag{channelsFlag},
				Action: runDisengage,
			},
			{
				Name:  "measure",
				Usage: "take a single-shot spectral measurement",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dump", Usage: "dump the raw document to <prefix><timestamp>.xml"},
				},
				Action: runMeasure,
			},
			{
				Name:  "journal",
				Usage: "inspect the measurement journal",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "print journaled readings",
						Flags: []cli.Flag{
							journalFlag,
							&cli.StringFlag{Name: "device", Usage: "filter by device identity"},
							&cli.IntFlag{Name: "limit", Usage: "maximum number of entries, 0 means all"},
						},
						Action: runJournalList,
					},
				},
			},
			{
				Name:  "monitor",
				Usage: "read a channel periodically, optionally journaling and publishing",
				Flags: []cli.Flag{
					channelFlag,
					journalFlag,
					&cli.DurationFlag{Name: "interval", Value: 5 * time.Second, Usage: "time between readings"},
					&cli.StringFlag{Name: "broker", Usage: "MQTT broker, e.g. tcp://localhost:1883", EnvVars: []string{"BENCHCTL_BROKER"}},
					&cli.StringFlag{Name: "topic", Value: "benchlab/readings", Usage: "MQTT topic"},
					&cli.StringFlag{Name: "mqtt-username", EnvVars: []string{"BENCHCTL_MQTT_USERNAME"}},
					&cli.StringFlag{Name: "mqtt-password", EnvVars: []string{"BENCHCTL_MQTT_PASSWORD"}},
				},
				Action: runMonitor,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

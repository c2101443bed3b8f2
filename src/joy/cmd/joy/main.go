package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"lake/src/hardware/stm32"
	"lake/src/joy"
	"lake/src/joy/userland"
	"lake/src/lib/loader"
	"lake/src/lib/semihosting"
	"lake/src/lib/trust"
	"lake/src/lib/upbeat"
)

var helpFlag = flag.Bool("h", false, "get usage info")
var configFlag = flag.String("config", "", "json boot parameters (default: built in demo)")
var ticksFlag = flag.Uint64("ticks", 0, "stop after this many time slices, 0 runs until every process exits")
var ttyFlag = flag.Bool("tty", false, "use the terminal in raw mode as the console")
var logFlag = flag.String("log", "", "log level: none, error, warn, info, debug (overrides the config)")
var hexFlag = flag.String("hex", "", "also write the flash image to this file as Intel HEX")

// demo is what runs without a config file.
var demo = []upbeat.ProcessParams{
	{Name: "hello", Program: "hello", Period: 20, Count: 5},
	{Name: "blink", Program: "blink", Pin: stm32.FirstLEDPin, Period: 10, Count: 10},
	{Name: "counter", Program: "counter", Count: 2000},
	{Name: "echo", Program: "echo", Count: 8},
}

func main() {
	flag.Parse()
	if *helpFlag {
		usage()
	}
	params := upbeat.Defaults()
	if *configFlag != "" {
		p, err := upbeat.Load(*configFlag)
		if err != nil {
			trust.Fatalf(1, "%v", err)
		}
		params = p
	}
	if len(params.Processes) == 0 {
		params.Processes = demo
	}
	level := params.LogLevel
	if *logFlag != "" {
		level = *logFlag
	}
	trust.SetLevel(trust.ParseLevel(level))

	if err := run(params); err != nil {
		trust.Fatalf(1, "%v", err)
	}
}

func run(params upbeat.BootParams) error {
	log := trust.Named("joy")

	var uartOut io.Writer
	if params.Output == upbeat.OutputUART {
		uartOut = os.Stdout
	}
	board := stm32.NewBoard(uartOut)
	for pin := uint8(stm32.FirstLEDPin); pin <= stm32.LastLEDPin; pin++ {
		if err := board.GPIOE.Configure(pin, stm32.PinOutput); err != nil {
			return err
		}
	}
	gpioLog := trust.Named("gpio")
	board.GPIOE.Watch(func(pin uint8, level bool) {
		gpioLog.Infof("%s pin %d -> %v", board.GPIOE.Name, pin, level)
	})

	console, closeConsole, err := openConsole(params, board)
	if err != nil {
		return err
	}
	defer closeConsole()

	a := loader.NewAssembler(stm32.FlashBase)
	userland.Idle(a)
	for _, p := range params.Processes {
		if err := userland.Build(a, p); err != nil {
			return err
		}
	}
	im, err := a.Assemble()
	if err != nil {
		return err
	}
	if err := loader.Load(board.Bus, im, trust.Named("loader")); err != nil {
		return err
	}
	idle, err := im.Symbol(userland.IdleLabel)
	if err != nil {
		return err
	}
	if *hexFlag != "" {
		if err := dumpHex(*hexFlag, im, idle); err != nil {
			return err
		}
		log.Infof("wrote flash image to %s", *hexFlag)
	}

	k, err := joy.NewKernel(params, board.CPU, idle,
		joy.WithConsole(console),
		joy.WithPins(board.GPIOE),
		joy.WithLogger(log),
		joy.WithMainStack(board.SRAMEnd()))
	if err != nil {
		return err
	}
	for _, p := range params.Processes {
		entry, err := im.Symbol(userland.EntryLabel(p))
		if err != nil {
			return err
		}
		if _, err := k.Spawn(p.Name, entry, p.Privileged); err != nil {
			return err
		}
	}
	if err := k.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err = k.Run(ctx, *ticksFlag)
	k.LogStats()
	if err == context.Canceled {
		log.Infof("interrupted")
		return nil
	}
	return err
}

// openConsole picks the device behind write and read_char.
func openConsole(params upbeat.BootParams, board *stm32.Board) (joy.Console, func() error, error) {
	noop := func() error { return nil }
	if params.Output == upbeat.OutputUART {
		go func() {
			buf := make([]byte, 64)
			for {
				n, err := os.Stdin.Read(buf)
				if n > 0 {
					board.USART1.Inject(buf[:n]...)
				}
				if err != nil {
					return
				}
			}
		}()
		return joy.SerialConsole{Port: board.USART1}, noop, nil
	}
	if *ttyFlag {
		c, closer, err := semihosting.OpenTTY()
		if err != nil {
			return nil, nil, err
		}
		return c, closer, nil
	}
	return semihosting.NewConsole(os.Stdin, os.Stdout), noop, nil
}

func dumpHex(path string, im *loader.Image, entry uint32) error {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := loader.WriteHex(fp, im, entry); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: joy [-config file.json] [-ticks n] [-tty] [-log level] [-hex out.hex]\n")
	fmt.Fprintf(os.Stderr, "programs: %v\n", userland.Programs())
	flag.PrintDefaults()
	os.Exit(1)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/wfunc/sensorlight/internal/hardware"
	"go.uber.org/zap"
)

var (
	device   = flag.String("d", "/dev/ttyUSB0", "串口设备")
	baudrate = flag.Int("b", 57600, "波特率")
	count    = flag.Int("n", 1, "发送次数")
	interval = flag.Int("i", 1000, "发送间隔(毫秒)")
	timeout  = flag.Duration("t", 2*time.Second, "单帧写入超时")
	mock     = flag.Bool("mock", false, "不打开串口，只打印帧")
	verbose  = flag.Bool("v", false, "详细输出")
)

func usage() {
	fmt.Fprintln(os.Stderr, "用法: framectl [选项] <命令> [参数]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "命令:")
	fmt.Fprintln(os.Stderr, "  set_mode <N>   发送 #m N$")
	fmt.Fprintln(os.Stderr, "  get_info       发送 #i% $")
	fmt.Fprintln(os.Stderr, "  get_raw        发送 #r% $")
	fmt.Fprintln(os.Stderr, "  parse <帧>     校验帧格式，不访问串口")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "选项:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if args[0] == "parse" {
		if len(args) < 2 {
			log.Fatal("parse 需要一个帧参数")
		}
		f, err := hardware.ParseFrame([]byte(args[1]))
		if err != nil {
			log.Fatalf("无效帧: %v", err)
		}
		fmt.Printf("✓ %s 命令=%s %#v\n", f, f.Code.Name(), f)
		return
	}

	send, err := command(args)
	if err != nil {
		log.Fatal(err)
	}

	zl := zap.NewNop()
	if *verbose {
		zl, _ = zap.NewDevelopment()
	}

	var ch hardware.Channel
	if *mock {
		ch = hardware.NewMockChannel(zl)
	} else {
		port, err := hardware.OpenSerial(*device, *baudrate)
		if err != nil {
			log.Fatalf("无法打开串口 %s: %v", *device, err)
		}
		ch = port
		fmt.Printf("✓ 串口已打开: %s @ %d baud, 8N1\n", *device, *baudrate)
	}

	gw := hardware.NewGateway(ch, hardware.WithWriteTimeout(*timeout), hardware.WithLogger(zl))
	defer gw.Close()

	failed := 0
	for i := 1; i <= *count; i++ {
		start := time.Now()
		result, err := send(gw)
		if err != nil {
			failed++
			fmt.Printf("[%d] ✗ %v\n", i, err)
		} else {
			fmt.Printf("[%d] ✓ %s (%s)\n", i, result, time.Since(start).Round(time.Microsecond))
		}
		if i < *count {
			time.Sleep(time.Duration(*interval) * time.Millisecond)
		}
	}

	stats := gw.Stats()
	fmt.Printf("发送 %d 帧，失败 %d\n", stats.FramesWritten, stats.WriteErrors)
	if failed > 0 {
		os.Exit(1)
	}
}

// command 把命令行参数转换为网关调用
func command(args []string) (func(*hardware.Gateway) (string, error), error) {
	ctx := context.Background()

	switch args[0] {
	case "set_mode":
		mode := big.NewInt(2)
		if len(args) > 1 {
			if _, ok := mode.SetString(args[1], 10); !ok {
				return nil, fmt.Errorf("mode 必须是整数: %q", args[1])
			}
		}
		return func(gw *hardware.Gateway) (string, error) { return gw.SetModeValue(ctx, mode) }, nil

	case "get_info":
		return func(gw *hardware.Gateway) (string, error) { return gw.GetInfo(ctx) }, nil

	case "get_raw":
		return func(gw *hardware.Gateway) (string, error) { return gw.GetRaw(ctx) }, nil

	default:
		return nil, fmt.Errorf("未知命令: %s", args[0])
	}
}

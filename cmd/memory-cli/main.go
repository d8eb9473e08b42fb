// 命令行客户端：通过 HTTP API 与推送流驱动地图控制器，便于在无浏览器环境下操作集合
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"memory-map/internal/geo"
	"memory-map/internal/logger"
	"memory-map/internal/mapview"
	"memory-map/internal/store"
)

func printHelp() {
	fmt.Println("commands:")
	fmt.Println("  list")
	fmt.Println("  state")
	fmt.Println("  stats")
	fmt.Println("  click <lat> <lng>")
	fmt.Println("  search <lat> <lng> <name...>")
	fmt.Println("  submit <location> | <time> | <memory>")
	fmt.Println("  loc <lat> <lng>")
	fmt.Println("  mode")
	fmt.Println("  open <id>")
	fmt.Println("  reveal <id>")
	fmt.Println("  help")
	fmt.Println("  exit")
}

func parsePoint(a, b string) (geo.Point, error) {
	lat, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return geo.Point{}, err
	}
	lng, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return geo.Point{}, err
	}
	return geo.Point{Lat: lat, Lng: lng}, nil
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	base := os.Getenv("MEMORY_API")
	if base == "" {
		base = "http://127.0.0.1:8080/api"
	}
	remote := store.NewRemote(base, nil)

	cm := &consoleMap{w: os.Stdout}
	loc := &fixedLocator{}
	if la, ln := os.Getenv("MEMORY_CLI_LAT"), os.Getenv("MEMORY_CLI_LNG"); la != "" && ln != "" {
		if p, err := parsePoint(la, ln); err == nil {
			loc.set(p)
		}
	}
	c := mapview.New(mapview.Options{
		Map:         cm,
		Renderer:    &consoleRenderer{m: cm},
		Locator:     loc,
		Store:       store.NewAdapter(remote, l),
		RequireTime: os.Getenv("REQUIRE_TIME_TEXT") == "true",
		Logger:      l,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := c.Run(ctx); err != nil {
			l.Error("controller_error", "err", err)
		}
	}()
	select {
	case <-c.Ready():
	case <-time.After(10 * time.Second):
		fmt.Println("initial load timed out; continuing")
	}
	fmt.Println("memory-map cli ready:", base)
	printHelp()

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if err := run(ctx, c, remote, loc, parts, line); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			fmt.Println("error:", err)
		}
	}
}

var errExit = errors.New("exit")

func run(ctx context.Context, c *mapview.Controller, remote *store.RemoteBackend, loc *fixedLocator, parts []string, line string) error {
	switch strings.ToLower(parts[0]) {
	case "exit", "quit":
		return errExit
	case "help":
		printHelp()
	case "list":
		s, err := c.Snapshot(ctx)
		if err != nil {
			return err
		}
		for _, id := range s.FlatIDs {
			e, _, _ := c.Entry(ctx, id)
			fmt.Printf("%s (%.5f, %.5f) visits=%d %s: %s\n", id, e.Coords.Lat, e.Coords.Lng, e.NumVisits, e.LocationText, e.MemoryText)
		}
	case "state":
		s, err := c.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("interaction=%s mode=%s entries=%d loaded=%v\n", s.Interaction, s.Mode, len(s.FlatIDs), s.InitialLoaded)
		if s.Pending != nil {
			fmt.Printf("pending=(%.5f, %.5f)\n", s.Pending.Lat, s.Pending.Lng)
		}
		if s.Location != nil {
			fmt.Printf("location=(%.5f, %.5f)\n", s.Location.Lat, s.Location.Lng)
		}
	case "stats":
		t, err := remote.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("total=%d visits=%d\n", t.Total, t.Visits)
	case "click":
		if len(parts) < 3 {
			return fmt.Errorf("usage: click <lat> <lng>")
		}
		p, err := parsePoint(parts[1], parts[2])
		if err != nil {
			return err
		}
		return c.Click(ctx, p)
	case "search":
		if len(parts) < 4 {
			return fmt.Errorf("usage: search <lat> <lng> <name...>")
		}
		p, err := parsePoint(parts[1], parts[2])
		if err != nil {
			return err
		}
		return c.Search(ctx, strings.Join(parts[3:], " "), p)
	case "submit":
		fields := strings.Split(strings.TrimSpace(line[len(parts[0]):]), "|")
		for len(fields) < 3 {
			fields = append(fields, "")
		}
		id, err := c.Submit(ctx, mapview.Form{
			LocationText: strings.TrimSpace(fields[0]),
			TimeText:     strings.TrimSpace(fields[1]),
			MemoryText:   strings.TrimSpace(fields[2]),
		})
		if err != nil {
			return err
		}
		fmt.Println("created", id)
	case "loc":
		if len(parts) < 3 {
			return fmt.Errorf("usage: loc <lat> <lng>")
		}
		p, err := parsePoint(parts[1], parts[2])
		if err != nil {
			return err
		}
		loc.set(p)
		return c.Locate(ctx, true)
	case "mode":
		m, err := c.ToggleMode(ctx)
		if err != nil {
			return err
		}
		fmt.Println("mode:", m)
	case "open":
		if len(parts) < 2 {
			return fmt.Errorf("usage: open <id>")
		}
		_, err := c.ClickMarker(ctx, parts[1])
		return err
	case "reveal":
		if len(parts) < 2 {
			return fmt.Errorf("usage: reveal <id>")
		}
		return c.Reveal(ctx, parts[1])
	default:
		fmt.Println("unknown command")
	}
	return nil
}

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"
	"github.com/usnistgov/devsim"
	"github.com/usnistgov/devsim/internal/devsimdb"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// devsimHome is the per-user directory holding the config file and logs.
func devsimHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no home directory for settings: %w", err)
	}
	return filepath.Join(home, ".devsim"), nil
}

// ensureFile returns dir/name, creating the directory and an empty file
// when they are missing. An existing file is left untouched.
func ensureFile(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}
	fullname := filepath.Join(dir, name)
	f, err := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
	if err != nil {
		return "", err
	}
	return fullname, f.Close()
}

// readSettings points viper at config.yaml in /etc/devsim, the user's
// settings directory, or the working directory, and reads it. An empty file
// is created in the settings directory on first use.
func readSettings(settingsDir string) error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.addr", devsimdb.DefaultOptions().Addr)

	if _, err := ensureFile(settingsDir, "config.yaml"); err != nil {
		return err
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, dir := range []string{filepath.FromSlash("/etc/devsim"), settingsDir, "."} {
		viper.AddConfigPath(dir)
	}
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}
	return nil
}

// rotatingLogger logs to logdir/name, rotating at 10 MB and keeping four
// gzipped backups for at most 180 days.
func rotatingLogger(logdir, name string) (*log.Logger, string, error) {
	filename, err := ensureFile(logdir, name)
	if err != nil {
		return nil, "", err
	}
	rotator := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10,
		MaxBackups: 4,
		MaxAge:     180,
		Compress:   true,
	}
	return log.New(rotator, "", log.LstdFlags), filename, nil
}

// startProfiling starts a CPU profile into cpuFile if it is named. The
// returned func stops it and writes a heap profile into memFile if that is named.
func startProfiling(cpuFile, memFile string) (stop func(), err error) {
	var cpu *os.File
	if cpuFile != "" {
		if cpu, err = os.Create(cpuFile); err != nil {
			return nil, err
		}
		if err = pprof.StartCPUProfile(cpu); err != nil {
			cpu.Close()
			return nil, err
		}
	}
	stop = func() {
		if cpu != nil {
			pprof.StopCPUProfile()
			cpu.Close()
		}
		if memFile == "" {
			return
		}
		f, err := os.Create(memFile)
		if err != nil {
			log.Printf("memory profile: %v", err)
			return
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Printf("memory profile: %v", err)
		}
	}
	return stop, nil
}

// startDatabase connects to the activity database if the config file asks for one.
func startDatabase(abort <-chan struct{}) *devsimdb.DBConnection {
	if !viper.GetBool("database.enabled") {
		return devsimdb.DummyDBConnection()
	}
	opts := devsimdb.DefaultOptions()
	opts.Addr = viper.GetString("database.addr")
	activity := &devsimdb.ActivityMessage{
		ID:        ulid.Make().String(),
		Hostname:  devsim.Build.Host,
		Githash:   githash,
		Version:   devsim.Build.Version,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Start:     time.Now(),
	}
	db := devsimdb.StartDBConnection(opts, activity, abort)
	if db.IsConnected() {
		fmt.Printf("Logging activity to ClickHouse at %s\n", opts.Addr)
	} else {
		fmt.Printf("Could not connect to ClickHouse at %s: %v\n", opts.Addr, db.Err())
		devsim.ProblemLogger.Printf("activity database unavailable: %v", db.Err())
	}
	return db
}

func main() {
	devsim.Build.Date = strings.ReplaceAll(buildDate, ".", " ")
	devsim.Build.Githash = githash
	devsim.Build.Gitdate = gitdate
	devsim.Build.Summary = fmt.Sprintf("DEVSIM version %s (git commit %s of %s)", devsim.Build.Version, githash, gitdate)
	devsim.Build.Host = "host not detected"
	if host, err := os.Hostname(); err == nil {
		devsim.Build.Host = host
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	pingDB := flag.Bool("pingdb", false, "check that the ClickHouse server in the settings answers, and quit")
	basePort := flag.Int("port", devsim.Ports.RPC, "base port number: RPC on port, status on port+1, outputs on port+2")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Println(devsim.Build.Summary)
		fmt.Printf("Built %s with %s, running on %d CPUs\n", devsim.Build.Date, runtime.Version(), runtime.NumCPU())
		return
	}
	banner := fmt.Sprintf("\nThis is DEVSIM version %s (git commit %s)\n", devsim.Build.Version, githash)
	fmt.Print(banner)

	stopProfiling, err := startProfiling(*cpuprofile, *memprofile)
	if err != nil {
		log.Fatal(err)
	}
	defer stopProfiling()

	settingsDir, err := devsimHome()
	if err != nil {
		log.Fatal(err)
	}
	logdir := filepath.Join(settingsDir, "logs")
	problems, problemname, err := rotatingLogger(logdir, "problems.log")
	if err != nil {
		log.Fatal(err)
	}
	updates, logname, err := rotatingLogger(logdir, "updates.log")
	if err != nil {
		log.Fatal(err)
	}
	devsim.ProblemLogger = problems
	devsim.UpdateLogger = updates
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", logname)
	devsim.UpdateLogger.Print(banner)

	if err := readSettings(settingsDir); err != nil {
		log.Fatal(err)
	}

	if *pingDB {
		opts := devsimdb.DefaultOptions()
		opts.Addr = viper.GetString("database.addr")
		if err := devsimdb.PingServer(opts); err != nil {
			fmt.Printf("ClickHouse server at %s did not answer: %v\n", opts.Addr, err)
			os.Exit(1)
		}
		return
	}

	devsim.SetPortnumbers(*basePort)
	cfg, err := devsim.LoadConfig(viper.GetViper(), devsim.ConfigKey)
	if err != nil {
		fmt.Printf("Ignoring stored settings: %v\n", err)
		devsim.ProblemLogger.Printf("ignoring stored settings: %v", err)
	}
	sim, err := devsim.NewSimulator(cfg)
	if err != nil {
		fmt.Printf("Some stored settings were rejected: %v\n", err)
		devsim.ProblemLogger.Printf("stored settings rejected: %v", err)
	}

	abort := make(chan struct{})
	db := startDatabase(abort)
	opts := devsim.ServerOptions{Viper: viper.GetViper(), DB: db}
	if err := devsim.RunRPCServer(sim, devsim.Ports.RPC, true, opts); err != nil {
		devsim.ProblemLogger.Printf("RPC server: %v", err)
		fmt.Println(err)
	}
	close(abort)
	db.Wait()
}

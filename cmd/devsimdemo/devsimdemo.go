// devsimdemo drives a simulator through a few scenarios in-process and prints
// what the outputs show.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/usnistgov/devsim"
)

type demo struct {
	sim     *devsim.Simulator
	samples int
	timeout time.Duration
}

// readRow makes samples blocking reads of output ch and formats them as one row.
func (d *demo) readRow(label string, ch devsim.OutputChannel) {
	values := make([]string, 0, d.samples)
	for range d.samples {
		v, err := d.sim.ReadOutput(ch, true, d.timeout)
		if err != nil {
			values = append(values, devsim.Code(err).String())
			continue
		}
		values = append(values, fmt.Sprintf("%8.3f", v))
	}
	fmt.Printf("%-24s %s\n", label, strings.Join(values, " "))
}

func (d *demo) echo() {
	fmt.Println("\nEcho: INCHAN1 pushed, OUTCHAN1 = 2 x INCHAN1")
	check(d.sim.SetOutputScale(devsim.OutChan1, 2))
	for _, v := range []float64{0.5, -1, 3.25} {
		check(d.sim.PushInput(devsim.InChan1, v))
		d.readRow(fmt.Sprintf("push %g", v), devsim.OutChan1)
	}
}

func (d *demo) transform() {
	fmt.Println("\nTransforms on INCHAN2, seen on OUTCHAN2")
	clip := func(x0, x1 float64) (float64, error) { return math.Max(-1, math.Min(1, x0)), nil }
	check(d.sim.RegisterTransform("clip", clip))
	for _, name := range []string{"negate", "square", "clip"} {
		check(d.sim.SetNamedTransform(devsim.InChan2, name))
		check(d.sim.PushInput(devsim.InChan2, 1.5))
		d.readRow(name+"(1.5)", devsim.OutChan2)
	}
	check(d.sim.ClearTransform(devsim.InChan2))
}

func (d *demo) playback(dir string) {
	fmt.Println("\nFile playback: SRCFILE3 -> OUTCHAN3, scale 10, noise 0.5, recycling")
	name := filepath.Join(dir, "playback.txt")
	var b strings.Builder
	b.WriteString("# seq value\n")
	for i, v := range []float64{0.1, 0.2, 0.3} {
		fmt.Fprintf(&b, "%d %g\n", i, v)
	}
	check(os.WriteFile(name, []byte(b.String()), 0644))
	check(d.sim.BindFile(devsim.SrcFile3, name, true))
	check(d.sim.SetOutputSource(devsim.OutChan3, devsim.FromFile(devsim.SrcFile3)))
	check(d.sim.SetOutputScale(devsim.OutChan3, 10))
	check(d.sim.SetNoiseScale(devsim.OutChan3, 0.5))
	d.readRow("playback.txt", devsim.OutChan3)

	check(d.sim.BindFile(devsim.SrcFile3, name, false))
	d.readRow("playback.txt, once", devsim.OutChan3)
}

func (d *demo) waveforms() {
	fmt.Println("\nWaveforms on INCHAN4, level 1, seen on OUTCHAN4")
	check(d.sim.SetInputSource(devsim.InChan4, devsim.SourceCyclic))
	check(d.sim.SetCyclicLevel(devsim.InChan4, 1))
	check(d.sim.SetCyclicRate(devsim.InChan4, d.sim.CycleInterval()))
	for _, kind := range []devsim.WaveformKind{devsim.WaveSine, devsim.WavePulse, devsim.WaveRamp, devsim.WaveSawtooth} {
		check(d.sim.SetCyclicType(devsim.InChan4, kind))
		d.readRow(kind.String(), devsim.OutChan4)
	}
}

func check(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	cycle := flag.Duration("cycle", 20*time.Millisecond, "main cycle interval")
	samples := flag.Int("samples", 8, "outputs read per scenario")
	debug := flag.Bool("debug", false, "log pushes, triggers and timeouts")
	flag.Parse()

	cfg := devsim.DefaultConfig()
	cfg.CycleInterval = *cycle
	cfg.Debug = *debug
	sim, err := devsim.NewSimulator(cfg)
	check(err)

	dir, err := os.MkdirTemp("", "devsimdemo")
	check(err)
	defer os.RemoveAll(dir)

	check(sim.Start())
	d := &demo{sim: sim, samples: *samples, timeout: 10 * *cycle}
	d.echo()
	d.transform()
	d.playback(dir)
	d.waveforms()
	check(sim.Stop())
	fmt.Printf("\n%d cycles run\n", sim.Passes())
}

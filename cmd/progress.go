package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	azsync "github.com/ghyeongl/azlassets/sync"
)

// progressLine renders progress events as a single rewritten status line.
// Nothing is drawn when out is not a terminal.
type progressLine struct {
	out   io.Writer
	width int
	bus   *azsync.EventBus
	ch    chan azsync.ProgressEvent
	done  chan struct{}
}

func startProgress(bus *azsync.EventBus) *progressLine {
	fd := int(os.Stderr.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		width = 80
	}
	p := &progressLine{out: os.Stderr, width: width, bus: bus, ch: bus.Subscribe(), done: make(chan struct{})}
	go p.loop()
	return p
}

func (p *progressLine) loop() {
	defer close(p.done)
	for ev := range p.ch {
		switch ev.Kind {
		case azsync.EventStage:
			p.draw(fmt.Sprintf("%s: %s", ev.Type, ev.Stage))
		case azsync.EventAsset, azsync.EventHashed:
			p.draw(formatProgress(ev))
		case azsync.EventPassDone:
			p.draw(fmt.Sprintf("%s: %s", ev.Type, ev.Status))
		}
	}
	p.clear()
}

func formatProgress(ev azsync.ProgressEvent) string {
	verb := "fetched"
	if ev.Kind == azsync.EventHashed {
		verb = "hashed"
	}
	return fmt.Sprintf("%s: %s %d/%d %s", ev.Type, verb, ev.Done, ev.Total, ev.Path)
}

func (p *progressLine) draw(line string) {
	if len(line) > p.width-1 {
		line = line[:p.width-1]
	}
	fmt.Fprintf(p.out, "\r%s%s", line, strings.Repeat(" ", p.width-1-len(line)))
}

func (p *progressLine) clear() {
	fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", p.width-1))
}

// Stop detaches from the bus and clears the line. Safe on nil.
func (p *progressLine) Stop() {
	if p == nil {
		return
	}
	p.bus.Unsubscribe(p.ch)
	<-p.done
}

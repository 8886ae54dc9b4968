// Command gen-touchlog generates sample .tglog recordings for testing replay.
package main

import (
	"flag"
	"log"
	"strconv"
	"strings"

	"github.com/tactiledata/gesture.report/internal/touch/l1events"
	"github.com/tactiledata/gesture.report/internal/touch/recorder"
)

func main() {
	output := flag.String("o", "sample.tglog", "output path")
	elements := flag.String("elements", "1", "comma-separated element IDs to spread gestures across")
	swipes := flag.Int("swipes", 10, "number of slow swipes")
	flicks := flag.Int("flicks", 10, "number of fast flicks")
	scrolls := flag.Int("scrolls", 5, "number of vertical scrolls")
	taps := flag.Int("taps", 5, "number of taps")
	cancels := flag.Int("cancels", 2, "number of cancelled swipes")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()

	var ids []uint32
	for _, part := range strings.Split(*elements, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			log.Fatalf("bad element id %q: %v", part, err)
		}
		ids = append(ids, uint32(id))
	}
	if len(ids) == 0 {
		log.Fatal("at least one element ID is required")
	}

	gen := recorder.NewSyntheticGenerator(*seed)
	rec, err := recorder.NewRecorder(*output, "synthetic", int(gen.DisplayW), int(gen.DisplayH), 2.0)
	if err != nil {
		log.Fatalf("create recording: %v", err)
	}
	defer rec.Close()

	total := 0
	next := func(i int) uint32 { return ids[i%len(ids)] }
	write := func(events []l1events.PointerEvent) {
		for _, ev := range events {
			if err := rec.Record(ev); err != nil {
				log.Fatalf("record: %v", err)
			}
			total++
		}
	}

	for i := 0; i < *swipes; i++ {
		dx := 80 + float64(i%3)*40
		if i%2 == 1 {
			dx = -dx
		}
		write(gen.Swipe(next(i), dx))
	}
	for i := 0; i < *flicks; i++ {
		dx := 50 + float64(i%2)*30
		if i%2 == 0 {
			dx = -dx
		}
		write(gen.Flick(next(i), dx))
	}
	for i := 0; i < *scrolls; i++ {
		write(gen.VerticalScroll(next(i), 150))
	}
	for i := 0; i < *taps; i++ {
		write(gen.Tap(next(i)))
	}
	for i := 0; i < *cancels; i++ {
		write(gen.CancelledSwipe(next(i), -100))
	}

	log.Printf("✓ Created: %s (%d events)", *output, total)
}

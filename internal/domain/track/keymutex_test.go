package track

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestKeyedMutex(t *testing.T) {
	Convey("Given a keyed mutex", t, func() {
		km := newKeyedMutex()

		Convey("When holders of one key contend", func() {
			const holders = 32
			counter := 0
			var wg sync.WaitGroup
			for i := 0; i < holders; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock := km.Lock("P1|CHART")
					counter++
					unlock()
				}()
			}
			wg.Wait()

			Convey("Then the critical sections are serialized", func() {
				So(counter, ShouldEqual, holders)
			})

			Convey("Then the entry is removed once released", func() {
				km.mu.Lock()
				n := len(km.locks)
				km.mu.Unlock()
				So(n, ShouldEqual, 0)
			})
		})

		Convey("When different keys are held at once", func() {
			unlockA := km.Lock("a")
			unlockB := km.Lock("b")

			Convey("Then neither blocks the other", func() {
				km.mu.Lock()
				n := len(km.locks)
				km.mu.Unlock()
				So(n, ShouldEqual, 2)

				unlockA()
				unlockB()

				km.mu.Lock()
				n = len(km.locks)
				km.mu.Unlock()
				So(n, ShouldEqual, 0)
			})
		})
	})
}

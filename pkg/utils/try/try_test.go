package try_test

import (
	"errors"
	"testing"

	"github.com/opst/assetgraph/pkg/utils/try"
)

type fataler struct {
	fatal  [][]any
	helper int
}

func (f *fataler) Fatal(args ...any) {
	f.fatal = append(f.fatal, args)
}

func (f *fataler) Helper() {
	f.helper += 1
}

func TestEither(t *testing.T) {
	t.Run("when it has a value", func(t *testing.T) {
		testee := try.To(42, nil)
		ftl := &fataler{}

		if got := testee.OrFatal(ftl); got != 42 {
			t.Errorf("OrFatal: (actual, expected) = (%d, %d)", got, 42)
		}
		if len(ftl.fatal) != 0 || ftl.helper != 0 {
			t.Errorf("Fatal or Helper is called unexpectedly: %+v", ftl)
		}
		if got := testee.OrDefault(1); got != 42 {
			t.Errorf("OrDefault: (actual, expected) = (%d, %d)", got, 42)
		}
		if got, err := try.Map(testee, func(v int) string { return "x" }).Get(); err != nil || got != "x" {
			t.Errorf("Map: (actual, expected) = (%s / %v, x / nil)", got, err)
		}
	})

	t.Run("when it has an error", func(t *testing.T) {
		expectedErr := errors.New("fake")
		testee := try.To(42, expectedErr)
		ftl := &fataler{}

		if got := testee.OrFatal(ftl); got != 0 {
			t.Errorf("OrFatal should return zero value: %d", got)
		}
		if len(ftl.fatal) != 1 || ftl.fatal[0][0] != expectedErr {
			t.Errorf("Fatal is not called with the error: %+v", ftl.fatal)
		}
		if ftl.helper != 1 {
			t.Errorf("Helper is not called: %d", ftl.helper)
		}
		if got := testee.OrDefault(1); got != 1 {
			t.Errorf("OrDefault: (actual, expected) = (%d, %d)", got, 1)
		}
		if _, err := try.Map(testee, func(v int) string { return "x" }).Get(); !errors.Is(err, expectedErr) {
			t.Errorf("Map should keep the error: %v", err)
		}
	})
}

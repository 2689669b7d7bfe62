package condition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeWindow(t *testing.T) {
	now := time.Now()
	cond := EncodeTimeWindow(now.Add(-time.Hour), now.Add(time.Hour))

	var ev TimeWindow
	require.NoError(t, ev.Evaluate(context.Background(), cond, Context{Now: now}))
	require.Error(t, ev.Evaluate(context.Background(), cond, Context{Now: now.Add(2 * time.Hour)}))
}

func TestTimeWindowEmptyAlwaysPasses(t *testing.T) {
	var ev TimeWindow
	require.NoError(t, ev.Evaluate(context.Background(), nil, Context{Now: time.Now()}))
}

func TestAlwaysAllow(t *testing.T) {
	var ev AlwaysAllow
	require.NoError(t, ev.Evaluate(context.Background(), []byte("anything"), Context{}))
}

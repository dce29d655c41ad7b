package purchase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifiersCallsEveryNotifier(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("kafka down")}
	healthy := &recordingNotifier{}
	sale := Sale{ItemID: 1, Artist: "Nirvana", Title: "Nevermind", Quantity: 2}

	err := Notifiers{failing, healthy}.NotifySale(context.Background(), sale)
	require.Error(t, err)
	assert.ErrorContains(t, err, "kafka down")
	assert.Equal(t, []Sale{sale}, failing.sales)
	assert.Equal(t, []Sale{sale}, healthy.sales)

	assert.NoError(t, Notifiers{}.NotifySale(context.Background(), sale))
}

package simulator

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"avaneesh/ipixel-go/pkg/internal/logger"
	"avaneesh/ipixel-go/pkg/types"
)

const feedPingInterval = 20 * time.Second

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// FeedMessage is the JSON form of the display state sent to feed clients.
// Rows render the bitmap one string per row: '.' is off, '#' is a lit
// bi-level pixel and grayscale pixels use a 0-9 intensity digit.
type FeedMessage struct {
	Kind       string     `json:"kind"` // "snapshot" or the applied command code
	Power      bool       `json:"power"`
	Brightness uint8      `json:"brightness"`
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
	Rows       []string   `json:"rows,omitempty"`
	Clock      *FeedClock `json:"clock,omitempty"`
	At         time.Time  `json:"at"`
}

// FeedClock is set while the panel shows its clock face
type FeedClock struct {
	Style    uint8  `json:"style"`
	Date     string `json:"date,omitempty"` // YYYY-MM-DD, empty when hidden
	Format24 bool   `json:"format_24"`
}

// FeedHandler streams the device display state over a websocket. A client
// first receives a snapshot, then one message per applied frame.
func FeedHandler(dev *Device, log logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := feedUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("Simulator: Feed upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		events, unsubscribe := dev.Subscribe()
		defer unsubscribe()

		// Control frames are only processed while reading; the client
		// sends nothing else.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		snapshot := Event{Power: dev.Power(), Brightness: dev.Brightness(), Matrix: dev.Matrix(), At: time.Now()}
		if mode, ok := dev.Clock(); ok {
			snapshot.Clock = &mode
		}
		if err := conn.WriteJSON(newFeedMessage("snapshot", snapshot)); err != nil {
			return
		}
		log.Debug("Simulator: Feed client %s connected", r.RemoteAddr)

		ping := time.NewTicker(feedPingInterval)
		defer ping.Stop()

		for {
			select {
			case ev := <-events:
				if err := conn.WriteJSON(newFeedMessage(ev.Code.String(), ev)); err != nil {
					log.Debug("Simulator: Feed write: %v", err)
					return
				}
			case <-ping.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-gone:
				log.Debug("Simulator: Feed client %s left", r.RemoteAddr)
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}

func newFeedMessage(kind string, ev Event) FeedMessage {
	msg := FeedMessage{Kind: kind, Power: ev.Power, Brightness: ev.Brightness, At: ev.At}
	if m := ev.Matrix; m != nil {
		msg.Width, msg.Height = m.Width(), m.Height()
		msg.Rows = renderRows(m)
	}
	if c := ev.Clock; c != nil {
		msg.Clock = &FeedClock{Style: c.Style, Format24: c.Format24}
		if c.ShowDate {
			msg.Clock.Date = c.Date.Format(time.DateOnly)
		}
	}
	return msg
}

func renderRows(m *types.PixelMatrix) []string {
	rows := make([]string, m.Height())
	var b strings.Builder
	for y := range rows {
		b.Reset()
		for _, v := range m.Row(y) {
			switch {
			case v == 0:
				b.WriteByte('.')
			case m.Depth() == types.BiLevel:
				b.WriteByte('#')
			default:
				b.WriteByte('0' + byte(int(v)*9/255))
			}
		}
		rows[y] = b.String()
	}
	return rows
}

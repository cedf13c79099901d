// Package cursor implements the cursor updater (C6): an independent
// producer that watches the host windowing surface for cursor-shape
// changes and writes Cursor messages onto the shared stream device,
// interleaving freely with Format/Data frames under the device's write
// mutex (spec §4.6).
package cursor

import (
	"fmt"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/godbus/dbus/v5"

	"github.com/spice-space/spice-streaming-agent/internal/logger"
	"github.com/spice-space/spice-streaming-agent/internal/session"
	"github.com/spice-space/spice-streaming-agent/internal/streamport"
	"github.com/spice-space/spice-streaming-agent/internal/wire"
)

// reQueryInterval bounds how long the updater waits on the primary XFixes
// event source before falling back to a secondary poll, so a missed or
// coalesced CursorNotify event (or a desktop shell that doesn't emit one
// consistently) is never fatal to freshness.
const reQueryInterval = 2 * time.Second

// Updater is the cursor-shape producer. It owns its own X11 connection,
// independent of any capture plugin's connection, since it must keep
// running across capture-session boundaries (it is not part of the
// IDLE/CAPTURING state machine).
type Updater struct {
	port  *streamport.Port
	state *session.State

	conn *xgb.Conn
	root xproto.Window

	dbusConn *dbus.Conn

	lastSerial uint32
}

// New connects to the X server and, best-effort, the D-Bus session bus.
// Neither connection failing is fatal (spec §4.11): a nil Updater's Run
// is a no-op, matching the "cursor updates are best-effort, never fatal"
// rule.
func New(port *streamport.Port, state *session.State) (*Updater, error) {
	log := logger.WithComponent("cursor")

	conn, err := xgb.NewConn()
	if err != nil {
		log.Warn().Err(err).Msg("no X server reachable, cursor updates disabled")
		return nil, nil
	}

	if err := xfixes.Init(conn); err != nil {
		log.Warn().Err(err).Msg("XFixes extension unavailable, cursor updates disabled")
		conn.Close()
		return nil, nil
	}
	if _, err := xfixes.QueryVersion(conn, 5, 0).Reply(); err != nil {
		log.Warn().Err(err).Msg("XFixes QueryVersion failed, cursor updates disabled")
		conn.Close()
		return nil, nil
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	xfixes.SelectCursorInput(conn, root, xfixes.CursorNotifyMaskDisplayCursor)

	dbusConn, err := dbus.ConnectSessionBus()
	if err != nil {
		log.Warn().Err(err).Msg("no D-Bus session bus, cursor re-query trigger disabled")
		dbusConn = nil
	} else if err := dbusConn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		log.Warn().Err(err).Msg("failed to subscribe to PropertiesChanged")
	}

	return &Updater{port: port, state: state, conn: conn, root: root, dbusConn: dbusConn}, nil
}

// Close releases the updater's connections.
func (u *Updater) Close() {
	if u == nil {
		return
	}
	if u.dbusConn != nil {
		u.dbusConn.Close()
	}
	u.conn.Close()
}

// Run is the updater's event loop (spec §4.6: runs for the full session
// lifetime, observes quit_requested to exit). A nil receiver is a
// documented no-op so a failed New still lets the caller launch the
// updater unconditionally.
func (u *Updater) Run() {
	if u == nil {
		return
	}
	log := logger.WithComponent("cursor")

	events := make(chan xgb.Event, 8)
	errs := make(chan xgb.Error, 8)
	go func() {
		for {
			ev, err := u.conn.WaitForEvent()
			if ev == nil && err == nil {
				close(events)
				return
			}
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				continue
			}
			select {
			case events <- ev:
			default:
			}
		}
	}()

	var dbusSignals chan *dbus.Signal
	if u.dbusConn != nil {
		dbusSignals = make(chan *dbus.Signal, 8)
		u.dbusConn.Signal(dbusSignals)
	}

	ticker := time.NewTicker(reQueryInterval)
	defer ticker.Stop()

	for !u.state.QuitRequested() {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, isCursor := ev.(xfixes.CursorNotifyEvent); isCursor {
				if err := u.emitCursor(); err != nil {
					log.Warn().Err(err).Msg("failed to write cursor message")
				}
			}
		case err := <-errs:
			log.Warn().Interface("x11_error", err).Msg("X11 protocol error on cursor connection")
		case <-dbusSignals:
			if err := u.emitCursor(); err != nil {
				log.Warn().Err(err).Msg("failed to write cursor message")
			}
		case <-ticker.C:
			// Secondary trigger: re-query even without an event, bounding
			// staleness if CursorNotify was missed.
			if err := u.emitCursor(); err != nil {
				log.Warn().Err(err).Msg("failed to write cursor message")
			}
		}
	}
}

// emitCursor fetches the current cursor image and writes it as a Cursor
// message under the shared port's write mutex, interleaving freely with
// Format/Data frames (spec invariant: per-sender FIFO, no torn writes).
func (u *Updater) emitCursor() error {
	reply, err := xfixes.GetCursorImage(u.conn).Reply()
	if err != nil {
		return fmt.Errorf("cursor: GetCursorImage: %w", err)
	}
	if reply.CursorSerial == u.lastSerial {
		return nil
	}
	u.lastSerial = reply.CursorSerial

	rgba := argbToRGBA(reply.CursorImage)

	u.port.Lock()
	defer u.port.Unlock()
	msg := wire.EncodeCursor(uint16(reply.Width), uint16(reply.Height), reply.Xhot, reply.Yhot, rgba)
	return u.port.WriteAll(msg)
}

// argbToRGBA converts XFixes' packed 32-bit ARGB pixel array to a flat
// RGBA byte buffer, the pixel layout the Cursor message body carries.
func argbToRGBA(pixels []uint32) []byte {
	out := make([]byte, len(pixels)*4)
	for i, px := range pixels {
		a := byte(px >> 24)
		r := byte(px >> 16)
		g := byte(px >> 8)
		b := byte(px)
		out[i*4+0] = r
		out[i*4+1] = g
		out[i*4+2] = b
		out[i*4+3] = a
	}
	return out
}

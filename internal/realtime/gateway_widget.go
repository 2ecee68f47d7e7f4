package realtime

import (
	"context"
	"strings"
	"time"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

func (g *Gateway) widgetRoutes() map[string]route {
	return map[string]route{
		v1.TypeWidgetJoin:       {fn: g.onWidgetJoin},
		v1.TypeWidgetLeave:      {fn: g.onWidgetLeave},
		v1.TypeWidgetStart:      {ack: true, fn: g.onWidgetStart},
		v1.TypeWidgetSubmitStep: {ack: true, fn: g.onWidgetSubmitStep},
		v1.TypeWidgetAbandon:    {ack: true, fn: g.onWidgetAbandon},
	}
}

// Widgets exposes the flow engine.
func (g *Gateway) Widgets() *WidgetEngine { return g.widgets }

func widgetSessionID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", replyErr(v1.ErrCodeBadPayload, "missing sessionId")
	}
	return id, nil
}

func (g *Gateway) onWidgetStart(_ context.Context, c *call) (any, error) {
	var p v1.WidgetStartPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	started, err := g.widgets.Start(c.client.Principal.ID, p.Trigger, c.now)
	if err != nil {
		return nil, err
	}
	g.hub.Room(v1.NamespaceWidget, started.SessionID).Join(c.client)
	g.log.Info("widget.start", "session_id", started.SessionID, "trigger", started.Trigger, "identity", c.client.Principal.ID)
	return started, nil
}

func (g *Gateway) onWidgetJoin(_ context.Context, c *call) (any, error) {
	var p v1.WidgetSessionPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	id, err := widgetSessionID(p.SessionID)
	if err != nil {
		return nil, err
	}
	st, err := g.widgets.Status(c.client.Principal, id)
	if err != nil {
		return nil, err
	}
	g.hub.Room(v1.NamespaceWidget, id).Join(c.client)
	g.push(c.client, newEnvelope(v1.TypeWidgetStatus, st, c.now))
	return nil, nil
}

func (g *Gateway) onWidgetLeave(_ context.Context, c *call) (any, error) {
	var p v1.WidgetSessionPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	id, err := widgetSessionID(p.SessionID)
	if err != nil {
		return nil, err
	}
	if room := g.hub.LookupRoom(v1.NamespaceWidget, id); room != nil && room.Leave(c.client.SessionID) {
		g.hub.DropRoom(v1.NamespaceWidget, id)
	}
	return nil, nil
}

func (g *Gateway) onWidgetSubmitStep(_ context.Context, c *call) (any, error) {
	var p v1.WidgetSubmitStepPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	id, err := widgetSessionID(p.SessionID)
	if err != nil {
		return nil, err
	}

	adv, err := g.widgets.Submit(c.client.Principal, id, strings.TrimSpace(p.Step), p.Data, c.now)
	if err != nil {
		return nil, err
	}

	c.then(func() {
		room := g.hub.Room(v1.NamespaceWidget, id)
		if adv.Complete != nil {
			g.broadcast(room, newEnvelope(v1.TypeWidgetComplete, adv.Complete, c.now), "")
			g.log.Info("widget.complete", "session_id", id, "status", adv.Complete.Status)
			return
		}
		g.broadcast(room, newEnvelope(v1.TypeWidgetStep, adv.Step, c.now), "")
	})
	return adv.Step, nil
}

func (g *Gateway) onWidgetAbandon(_ context.Context, c *call) (any, error) {
	var p v1.WidgetSessionPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	id, err := widgetSessionID(p.SessionID)
	if err != nil {
		return nil, err
	}
	done, err := g.widgets.Abandon(c.client.Principal, id)
	if err != nil {
		return nil, err
	}
	c.then(func() {
		g.broadcast(g.hub.Room(v1.NamespaceWidget, id), newEnvelope(v1.TypeWidgetComplete, done, c.now), "")
	})
	return done, nil
}

// SweepWidgets expires stale widget sessions and pushes widget:error to their
// rooms. It returns the number of sessions that expired.
func (g *Gateway) SweepWidgets(now time.Time) int {
	expired := g.widgets.SweepExpired(now)
	for _, p := range expired {
		if room := g.hub.LookupRoom(v1.NamespaceWidget, p.SessionID); room != nil {
			g.broadcast(room, newEnvelope(v1.TypeWidgetError, p, now), "")
		}
		g.log.Info("widget.expired", "session_id", p.SessionID, "step", p.Step)
	}
	return len(expired)
}

package enrollment

import (
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/rib"
)

// deadAfterIntervals is how many silent keepalive intervals declare a
// neighbor dead.
const deadAfterIntervals = 3

// scheduleKeepalive arms the periodic watchdog once there is at least one
// enrolled neighbor.
func (c *Controller) scheduleKeepalive() {
	if c.keepaliveArmed {
		return
	}
	c.keepaliveArmed = true
	c.schedule(c.cfg.KeepaliveInterval, c.keepaliveTick)
}

// keepaliveTick sends a watchdog read to every enrolled neighbor and
// declares dead the ones silent for three intervals.
func (c *Controller) keepaliveTick() {
	c.keepaliveArmed = false
	now := c.now()
	deadline := now.Add(-deadAfterIntervals * c.cfg.KeepaliveInterval)

	var dead []dif.Neighbor
	alive := 0
	for _, n := range c.ctx.Neighbors() {
		if !n.Enrolled {
			continue
		}
		if !n.LastHeardFrom.IsZero() && n.LastHeardFrom.Before(deadline) {
			dead = append(dead, n)
			continue
		}
		alive++
		c.sendWatchdog(n)
	}

	for _, n := range dead {
		c.declareDead(n)
	}
	if alive > 0 {
		c.scheduleKeepalive()
	}
}

// sendWatchdog reads the peer's operational status; any answer (or any
// other traffic) refreshes liveness through NeighborHeard.
func (c *Controller) sendWatchdog(n dif.Neighbor) {
	read := &cdap.Message{
		OpCode:   cdap.MRead,
		ObjClass: "OperationalStatus",
		ObjName:  rib.PathOperationalStatus,
	}
	name := n.Name
	err := c.cdapch.SendRequest(n.UnderlyingPortID, read, func(resp *cdap.Message, err error) {
		if err != nil {
			return
		}
		c.ctx.NeighborHeard(name, c.now())
	})
	if err != nil {
		c.logger.Debug("Watchdog not sent", zap.String("neighbor", n.Name.String()), zap.Error(err))
	}
}

// declareDead marks a neighbor not-enrolled, pulls it out of the
// forwarding input and schedules re-enrollment with exponential backoff.
func (c *Controller) declareDead(n dif.Neighbor) {
	stored, ok := c.ctx.Neighbor(n.Name)
	if !ok || !stored.Enrolled {
		return
	}
	stored.Enrolled = false
	c.logger.Warn("Neighbor declared dead",
		zap.String("neighbor", n.Name.String()),
		zap.Time("last_heard", stored.LastHeardFrom),
	)
	c.neighborsChanged()
	c.notifier.NeighborsModified(false, []dif.Neighbor{*stored})
	c.scheduleReenroll(n.Name)
}

// scheduleReenroll arms an exponential-backoff re-enrollment attempt.
func (c *Controller) scheduleReenroll(name names.APNI) {
	stored, ok := c.ctx.Neighbor(name)
	if !ok {
		return
	}
	if stored.EnrollmentAttempts >= c.cfg.MaxEnrollmentAttempts {
		c.logger.Warn("Re-enrollment attempts exhausted, dropping neighbor",
			zap.String("neighbor", name.String()),
		)
		c.ctx.RemoveNeighbor(name)
		c.neighborsChanged()
		return
	}
	stored.EnrollmentAttempts++
	backoff := c.cfg.ReenrollBackoff << (stored.EnrollmentAttempts - 1)
	supportingDIF := stored.SupportingDIF

	c.schedule(backoff, func() {
		stored, ok := c.ctx.Neighbor(name)
		if !ok || stored.Enrolled {
			return
		}
		info, err := c.ctx.DIFInfo()
		if err != nil {
			return
		}
		c.logger.Info("Re-enrolling with neighbor",
			zap.String("neighbor", name.String()),
			zap.Int("attempt", stored.EnrollmentAttempts),
		)
		req := EnrollRequest{
			TransactionID: "reenroll-" + name.Key(),
			DIFName:       info.Name,
			SupportingDIF: supportingDIF,
			Neighbor:      name,
		}
		if err := c.EnrollToDIF(req); err != nil {
			c.scheduleReenroll(name)
		}
	})
}

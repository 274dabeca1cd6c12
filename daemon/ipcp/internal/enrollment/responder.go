package enrollment

import (
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/rerr"
)

// OnConnectRequest answers an incoming M_CONNECT on a management flow. The
// enumerated auth mechanisms are accepted as opaque; no mechanism is
// verified here.
func (c *Controller) OnConnectRequest(req *cdap.Message, fromPort int32) {
	reply, err := req.Reply()
	if err != nil {
		c.logger.Error("Cannot build connect reply", zap.Error(err))
		return
	}
	// Swap the naming attributes so the response names us as the source.
	reply.SrcApName, reply.DestApName = req.DestApName, req.SrcApName
	reply.SrcApInstance, reply.DestApInstance = req.DestApInstance, req.SrcApInstance
	reply.SrcAeName, reply.DestAeName = req.DestAeName, req.SrcAeName
	reply.SrcAeInstance, reply.DestAeInstance = req.DestAeInstance, req.SrcAeInstance

	if _, err := c.ctx.DIFInfo(); err != nil {
		reply.SetResult(rerr.CodeOf(err), rerr.ReasonOf(err))
	}
	if err := c.cdapch.SendResponse(fromPort, reply); err != nil {
		c.logger.Warn("Connect reply not sent", zap.Int32("port_id", fromPort), zap.Error(err))
	}
}

// OnStartEnrollment answers the peer's M_START on the enrollment object:
// record the joiner as a neighbor and hand back our DIF view and neighbor
// table.
func (c *Controller) OnStartEnrollment(req *cdap.Message, fromPort int32, peer dif.Neighbor) {
	reply, err := req.Reply()
	if err != nil {
		c.logger.Error("Cannot build enrollment reply", zap.Error(err))
		return
	}

	info, err := c.ctx.DIFInfo()
	if err != nil {
		reply.SetResult(rerr.CodeOf(err), rerr.ReasonOf(err))
		c.sendReply(fromPort, reply)
		return
	}

	if req.ObjValue.Kind != cdap.ValueBytes {
		reply.SetResult(rerr.KindObjectValueNull.Code(), "enrollment object value missing")
		c.sendReply(fromPort, reply)
		return
	}
	obj, err := ctrl.UnmarshalEnrollmentObject(req.ObjValue.Bytes)
	if err != nil {
		reply.SetResult(rerr.CodeOf(err), rerr.ReasonOf(err))
		c.sendReply(fromPort, reply)
		return
	}

	peer.Address = obj.Address
	peer.SupportingDIFs = obj.SupportingDIFs
	peer.Enrolled = true
	peer.UnderlyingPortID = fromPort
	stored := c.ctx.UpsertNeighbor(peer)
	stored.LastHeardFrom = c.now()

	enrollReply := ctrl.EnrollmentReply{
		DIFInfo:   info,
		Neighbors: c.ctx.Neighbors(),
	}
	reply.ObjValue = cdap.BytesValue(ctrl.MarshalEnrollmentReply(enrollReply))
	c.sendReply(fromPort, reply)

	c.logger.Info("Neighbor enrolled",
		zap.String("neighbor", peer.Name.String()),
		zap.Uint32("address", obj.Address),
	)
	c.neighborsChanged()
	c.notifier.NeighborsModified(true, []dif.Neighbor{*stored})
	c.scheduleKeepalive()
}

func (c *Controller) sendReply(portID int32, msg *cdap.Message) {
	if err := c.cdapch.SendResponse(portID, msg); err != nil {
		c.logger.Warn("Enrollment reply not sent", zap.Int32("port_id", portID), zap.Error(err))
	}
}

package server

import (
	"errors"

	"github.com/openrti-go/rticore/internal/federation"
	"github.com/openrti-go/rticore/internal/fom"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/rtierrors"
	"github.com/openrti-go/rticore/internal/telemetry"
	"github.com/openrti-go/rticore/internal/timemgmt"
)

// errFields extracts the (code, message) pair a response carries for a
// failed root arbitration (spec.md §7 federation-state category).
func errFields(err error) (int, string) {
	var rtiErr *rtierrors.RTIError
	if errors.As(err, &rtiErr) {
		return int(rtiErr.Code), rtiErr.Message
	}
	return int(rtierrors.CodeRTIInternalError), err.Error()
}

func (n *Node) handleCreateFederation(from handle.Connect, m *protocol.CreateFederationExecutionRequest) {
	if !n.IsRoot() {
		n.forwardUp(from, m, &pendingRequest{federationName: m.FederationName})
		return
	}

	resp := &protocol.CreateFederationExecutionResponse{}
	resp.CorrelationID = m.CorrelationID

	err := n.createFederation(m)
	if err != nil {
		resp.ErrCode, resp.ErrMsg = errFields(err)
	} else {
		resp.Success = true
	}
	n.send(from, resp)
}

// createFederation builds a federation from a create request, rolling the
// whole thing back when the module list is inconsistent.
func (n *Node) createFederation(m *protocol.CreateFederationExecutionRequest) error {
	if _, ok := n.federationsByName[m.FederationName]; ok {
		return rtierrors.New(rtierrors.CodeFederationExecutionAlreadyExists, "%q", m.FederationName)
	}
	modules, err := fom.DecodeModules(m.FOMModules)
	if err != nil {
		return err
	}

	h, err := n.fedAlloc.Get()
	if err != nil {
		return rtierrors.New(rtierrors.CodeRTIInternalError, "%v", err)
	}
	f, err := federation.New(h, m.FederationName, m.LogicalTimeFactoryName, n.logger)
	if err != nil {
		n.fedAlloc.Put(h)
		return err
	}
	if _, err := f.Modules.InsertModuleList(modules); err != nil {
		n.fedAlloc.Put(h)
		return err
	}

	n.federations[h] = f
	n.federationsByName[m.FederationName] = h
	telemetry.FederationCount.Inc()
	n.logger.Infow("federation created", "federation", m.FederationName, "timeFactory", m.LogicalTimeFactoryName)
	return nil
}

func (n *Node) handleDestroyFederation(from handle.Connect, m *protocol.DestroyFederationExecutionRequest) {
	if !n.IsRoot() {
		n.forwardUp(from, m, &pendingRequest{federationName: m.FederationName})
		return
	}

	resp := &protocol.DestroyFederationExecutionResponse{}
	resp.CorrelationID = m.CorrelationID

	f, ok := n.federationByName(m.FederationName)
	switch {
	case !ok:
		resp.ErrCode, resp.ErrMsg = int(rtierrors.CodeFederationExecutionDoesNotExist), m.FederationName
	case f.FederateCount() > 0:
		resp.ErrCode, resp.ErrMsg = int(rtierrors.CodeFederatesCurrentlyJoined), m.FederationName
	default:
		erase := &protocol.EraseFederationExecution{FederationName: m.FederationName}
		erase.FederationHandle = f.Handle
		n.sendAll(f.Broadcast(from, erase))
		n.eraseFederation(f)
		resp.Success = true
		n.logger.Infow("federation destroyed", "federation", m.FederationName)
	}
	n.send(from, resp)
}

func (n *Node) handleJoinFederation(from handle.Connect, m *protocol.JoinFederationExecutionRequest) {
	if !n.IsRoot() {
		n.forwardUp(from, m, &pendingRequest{
			federationName: m.FederationName,
			federateName:   m.FederateName,
			federateType:   m.FederateType,
		})
		return
	}

	resp := &protocol.JoinFederationExecutionResponse{}
	resp.CorrelationID = m.CorrelationID

	f, ok := n.federationByName(m.FederationName)
	if !ok {
		resp.ErrCode = int(rtierrors.CodeFederationExecutionDoesNotExist)
		resp.ErrMsg = m.FederationName
		n.send(from, resp)
		return
	}
	resp.FederationHandle = f.Handle

	modules, err := fom.DecodeModules(m.FOMModules)
	if err != nil {
		resp.ErrCode, resp.ErrMsg = errFields(err)
		n.send(from, resp)
		return
	}

	// Replicate the federation down this connect before the join response
	// that depends on it (spec.md §4.6 ordering guarantees).
	newConnect := !f.HasConnect(from)
	if newConnect {
		moduleBytes, err := fom.EncodeModules(f.Modules.GetModuleList())
		if err != nil {
			resp.ErrCode, resp.ErrMsg = errFields(err)
			n.send(from, resp)
			return
		}
		insert := &protocol.InsertFederationExecution{
			FederationName:         f.Name,
			LogicalTimeFactoryName: f.LogicalTimeFactoryName,
			Modules:                moduleBytes,
		}
		insert.FederationHandle = f.Handle
		n.send(from, insert)
	}

	fed, err := f.Join(m.FederateName, m.FederateType, from, "", modules)
	if err != nil {
		resp.ErrCode, resp.ErrMsg = errFields(err)
		n.send(from, resp)
		return
	}
	if newConnect {
		n.sendAll(f.ReplayState(from))
	}

	moduleBytes, err := fom.EncodeModules(f.Modules.GetModuleList())
	if err != nil {
		resp.ErrCode, resp.ErrMsg = errFields(err)
		n.send(from, resp)
		return
	}
	resp.Success = true
	resp.FederateHandle = fed.Handle
	resp.LogicalTimeFactoryName = f.LogicalTimeFactoryName
	resp.ModuleList = moduleBytes
	n.send(from, resp)
}

// handleJoinResponse runs at a non-root node: a successful join passing
// through it registers the federate in the local replica with the handle
// the root allocated (spec.md §4.1 Take).
func (n *Node) handleJoinResponse(from handle.Connect, m *protocol.JoinFederationExecutionResponse) {
	pr, ok := n.takePending(m)
	if !ok {
		return
	}
	if m.Success {
		if f, ok := n.federationByName(pr.federationName); ok {
			name := pr.federateName
			if name == "" {
				name = "HLAfederate"
			}
			f.InsertFederate(m.FederateHandle, name, pr.federateType, pr.origin)
		}
	}
	n.send(pr.origin, m)
}

// handleInsertFederation runs at a non-root node: the parent replicates a
// federation down this subtree.
func (n *Node) handleInsertFederation(from handle.Connect, m *protocol.InsertFederationExecution) {
	if _, ok := n.federationsByName[m.FederationName]; ok {
		return
	}
	modules, err := fom.DecodeModules(m.Modules)
	if err != nil {
		n.logger.Errorw("insert federation", "federation", m.FederationName, "err", err)
		return
	}
	n.fedAlloc.Take(m.FederationHandle)
	f, err := federation.New(m.FederationHandle, m.FederationName, m.LogicalTimeFactoryName, n.logger)
	if err != nil {
		n.logger.Errorw("insert federation", "federation", m.FederationName, "err", err)
		return
	}
	if _, err := f.Modules.InsertModuleList(modules); err != nil {
		n.logger.Errorw("insert federation", "federation", m.FederationName, "err", err)
		return
	}
	f.InsertConnect(from, true)
	n.federations[m.FederationHandle] = f
	n.federationsByName[m.FederationName] = m.FederationHandle
	telemetry.FederationCount.Inc()
}

func (n *Node) handleReserveName(from handle.Connect, m *protocol.ReserveObjectInstanceNameRequest) {
	if !n.IsRoot() {
		n.forwardUp(from, m, &pendingRequest{})
		return
	}
	resp := &protocol.ReserveObjectInstanceNameResponse{Name: m.Name}
	resp.CorrelationID = m.CorrelationID
	resp.FederationHandle = m.FederationHandle
	if f, ok := n.federationOf(m); ok {
		resp.Success = f.Instances.ReserveName(m.Name, m.FederateHandle) == nil
	}
	n.send(from, resp)
}

func (n *Node) handleReserveMultipleNames(from handle.Connect, m *protocol.ReserveMultipleObjectInstanceNameRequest) {
	if !n.IsRoot() {
		n.forwardUp(from, m, &pendingRequest{})
		return
	}
	resp := &protocol.ReserveMultipleObjectInstanceNameResponse{Names: m.Names}
	resp.CorrelationID = m.CorrelationID
	resp.FederationHandle = m.FederationHandle
	if f, ok := n.federationOf(m); ok {
		reserved := make([]string, 0, len(m.Names))
		resp.Success = true
		for _, name := range m.Names {
			if err := f.Instances.ReserveName(name, m.FederateHandle); err != nil {
				resp.Success = false
				break
			}
			reserved = append(reserved, name)
		}
		if !resp.Success {
			// All-or-nothing: release the partial set.
			for _, name := range reserved {
				f.Instances.ReleaseName(name, m.FederateHandle)
			}
		}
	}
	n.send(from, resp)
}

func (n *Node) handleObjectInstanceHandles(from handle.Connect, m *protocol.ObjectInstanceHandlesRequest) {
	if !n.IsRoot() {
		n.forwardUp(from, m, &pendingRequest{})
		return
	}
	resp := &protocol.ObjectInstanceHandlesResponse{}
	resp.CorrelationID = m.CorrelationID
	resp.FederationHandle = m.FederationHandle
	if f, ok := n.federationOf(m); ok {
		handles, err := f.Instances.AllocateHandles(m.Count)
		if err == nil {
			resp.Handles = handles
		}
	}
	n.send(from, resp)
}

func (n *Node) handleEnableTimeRegulation(from handle.Connect, m *protocol.EnableTimeRegulationRequest) {
	resp := &protocol.EnableTimeRegulationResponse{FederateHandle: m.FederateHandle}
	resp.CorrelationID = m.CorrelationID
	resp.FederationHandle = m.FederationHandle

	if !n.opts.PermitTimeRegulation {
		resp.ErrCode = int(rtierrors.CodeNotSupported)
		n.send(from, resp)
		return
	}
	if !n.IsRoot() {
		n.forwardUp(from, m, &pendingRequest{})
		return
	}

	f, ok := n.federationOf(m)
	if !ok {
		resp.ErrCode = int(rtierrors.CodeFederationExecutionDoesNotExist)
		n.send(from, resp)
		return
	}

	t, err := f.Time.Factory().Decode(m.Time)
	if err != nil {
		resp.ErrCode, _ = errFields(err)
		n.send(from, resp)
		return
	}
	lookahead, err := f.Time.Factory().Decode(m.Lookahead)
	if err != nil {
		resp.ErrCode, _ = errFields(err)
		n.send(from, resp)
		return
	}
	if lookahead < 0 {
		resp.ErrCode = int(rtierrors.CodeInvalidLookahead)
		n.send(from, resp)
		return
	}

	out, err := f.EnableTimeRegulation(from, m.FederateHandle, timemgmt.Time(t)+timemgmt.Time(lookahead))
	if err != nil {
		resp.ErrCode, _ = errFields(err)
		n.send(from, resp)
		return
	}
	n.sendAll(out)
	resp.Success = true
	n.send(from, resp)
}

func (n *Node) handleEnumerate(from handle.Connect, m *protocol.EnumerateFederationExecutionsRequest) {
	if !n.IsRoot() {
		n.forwardUp(from, m, &pendingRequest{})
		return
	}
	resp := &protocol.EnumerateFederationExecutionsResponse{}
	resp.CorrelationID = m.CorrelationID
	for _, f := range n.federations {
		resp.Federations = append(resp.Federations, protocol.FederationExecutionInformation{
			Name:                   f.Name,
			LogicalTimeFactoryName: f.LogicalTimeFactoryName,
		})
	}
	n.send(from, resp)
}

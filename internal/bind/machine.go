package bind

import (
	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/zb"
)

// advance runs whatever the record's current state requires: issue a
// request, register its response/timeout handlers, and let the callback
// drive the next advance call. Every handler captures rec together with
// the generation it was issued under, and drops itself once
// rec.generation has moved on, so a stale callback from a destroyed or
// reused slot is recognized and dropped (spec §9).
func (p *Pool) advance(rec *Record) {
	gen := rec.generation
	switch rec.State {
	case StateNew:
		p.mu.Lock()
		skipCheck := rec.Flags.BindChecked
		p.mu.Unlock()
		if skipCheck {
			// persisted as incapable of reporting: spec §4.7 skips the
			// verify/configure chain entirely.
			p.settle(rec, gen, StateNonFunctional)
			return
		}
		p.mu.Lock()
		rec.State = StateVerifyBinds
		rec.Attempts = 0
		p.mu.Unlock()
		p.advance(rec)

	case StateVerifyBinds:
		p.runStep(rec, gen, zb.ClusterZDO, zb.CmdMgmtBindRsp,
			func() (uint8, error) { return p.stack.MgmtBindRequest(rec.Address(), 0) },
			func(payload []byte) {
				entries, status := zb.ParseMgmtBindResponse(payload)
				if status != 0 {
					p.fail(rec, gen)
					return
				}
				if zb.HasBindTo(entries, zb.ClusterOnOff, p.stack.OurIEEE(), OurEndpoint) {
					p.transition(rec, gen, StateCheckConfigureReport)
				} else {
					p.transition(rec, gen, StateSendBindToMeReq)
				}
			})

	case StateSendBindToMeReq:
		p.runStep(rec, gen, zb.ClusterZDO, zb.CmdBindRsp,
			func() (uint8, error) { return p.stack.BindToMe(rec.Address(), rec.Endpoint, zb.ClusterOnOff) },
			func(payload []byte) {
				p.mu.Lock()
				rec.Flags.BoundToMe = true
				p.mu.Unlock()
				p.transition(rec, gen, StateSendConfigureReport)
			})

	case StateCheckConfigureReport:
		p.runStep(rec, gen, zb.ClusterOnOff, zb.GlobalReadReportingConfigResp,
			func() (uint8, error) {
				return p.stack.ReadReportingConfig(rec.Address(), rec.Endpoint, zb.ClusterOnOff, zb.AttrOnOff)
			},
			func(payload []byte) {
				configured, ok := zb.ParseReadReportingConfigResponse(payload)
				if ok && configured {
					p.mu.Lock()
					rec.Flags.ReportConfigured = true
					p.mu.Unlock()
					p.transition(rec, gen, StateTryReadAttribute)
				} else {
					p.transition(rec, gen, StateSendConfigureReport)
				}
			})

	case StateSendConfigureReport:
		p.runStep(rec, gen, zb.ClusterOnOff, zb.GlobalConfigureReportingResp,
			func() (uint8, error) {
				return p.stack.ConfigureReporting(rec.Address(), rec.Endpoint, zb.ClusterOnOff, zb.AttrOnOff, zb.TypeBool, 0, 3600, 1)
			},
			func(payload []byte) {
				p.mu.Lock()
				rec.Flags.ReportConfigured = true
				p.mu.Unlock()
				p.transition(rec, gen, StateTryReadAttribute)
			})

	case StateTryReadAttribute:
		p.runStep(rec, gen, zb.ClusterOnOff, zb.GlobalReadAttributesResponse,
			func() (uint8, error) {
				return p.stack.ReadAttribute(rec.Address(), rec.Endpoint, zb.ClusterOnOff, zb.AttrOnOff)
			},
			func(payload []byte) {
				attrs := zb.ParseReadAttributesResponse(payload)
				v, ok := attrs[zb.AttrOnOff]
				initial := ok && len(v) > 0 && v[0] != 0

				p.mu.Lock()
				rec.Flags.Initial = true
				rec.Flags.InitialValue = initial
				rec.OnState = initial
				checkRequested := rec.Flags.CheckReportingRequested
				p.mu.Unlock()

				if p.caps != nil && checkRequested {
					_ = p.caps.SetBindCapability(rec.Index, config.BindCapTrue)
				}
				p.settle(rec, gen, StateFunctional)
			})

	case StateUnbind:
		p.runStep(rec, gen, zb.ClusterZDO, zb.CmdUnbindRsp,
			func() (uint8, error) { return p.stack.Unbind(rec.Address(), rec.Endpoint, zb.ClusterOnOff) },
			func(payload []byte) {
				p.settle(rec, gen, StateNonFunctional)
				p.destroy(rec, false)
			})

	case StateFunctional, StateNonFunctional:
		// terminal for this advance pass; Rescan/RequestUnbind re-enter
		// the machine from here.
	}
}

// fail is invoked when a step's response carries a failure status that
// the retry budget has nothing to gain from retrying (only timeouts and
// transport failures are retried by runStep itself).
func (p *Pool) fail(rec *Record, gen uint32) {
	p.settle(rec, gen, StateNonFunctional)
	if p.caps != nil {
		p.mu.Lock()
		checkRequested := rec.Flags.CheckReportingRequested
		p.mu.Unlock()
		if checkRequested {
			_ = p.caps.SetBindCapability(rec.Index, config.BindCapFalse)
		}
	}
	p.destroy(rec, true)
}

func (p *Pool) transition(rec *Record, gen uint32, next State) {
	p.mu.Lock()
	if rec.generation != gen {
		p.mu.Unlock()
		return
	}
	rec.State = next
	rec.Attempts = 0
	p.mu.Unlock()
	p.advance(rec)
}

func (p *Pool) settle(rec *Record, gen uint32, final State) {
	p.mu.Lock()
	if rec.generation != gen {
		p.mu.Unlock()
		return
	}
	rec.State = final
	p.mu.Unlock()
	if p.OnValidity != nil {
		p.OnValidity()
	}
}

// runStep sends one request via send, registers the response+timeout,
// and retries up to maxConfigAttempts on timeout before demoting the
// record to NonFunctional (spec §4.7, §7: "Bind step timeout: retried up
// to kMaxConfigAttempts; exhaustion demotes to NonFunctional").
func (p *Pool) runStep(rec *Record, gen uint32, cluster zb.ClusterID, respCmd uint8, send func() (uint8, error), onResponse func(payload []byte)) {
	p.mu.Lock()
	if rec.generation != gen {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if _, err := send(); err != nil {
		p.retryOrFail(rec, gen, cluster, respCmd)
		return
	}

	timerBox := new(alarm.Handle)
	*timerBox = alarm.Invalid

	p.stack.OnResponse(cluster, respCmd, func(src zb.Address, payload []byte) {
		if zb.IsCoordinator(src, p.stack.OurIEEE()) {
			return
		}
		p.mu.Lock()
		if rec.generation != gen {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		p.stack.CancelResponse(cluster, respCmd)
		p.alarms.Cancel(*timerBox)
		onResponse(payload)
	})

	*timerBox = p.alarms.Arm(alarm.Invalid, stepTimeout, func(any) {
		p.stack.CancelResponse(cluster, respCmd)
		p.retryOrFail(rec, gen, cluster, respCmd)
	}, nil)
}

func (p *Pool) retryOrFail(rec *Record, gen uint32, cluster zb.ClusterID, respCmd uint8) {
	p.mu.Lock()
	if rec.generation != gen {
		p.mu.Unlock()
		return
	}
	rec.Attempts++
	attempts := rec.Attempts
	p.mu.Unlock()

	if attempts < maxConfigAttempts {
		p.advance(rec)
		return
	}
	p.fail(rec, gen)
}

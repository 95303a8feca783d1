package presence

import "testing"

func allGates(enabled bool) gates {
	return gates{
		edgeMM: enabled, edgePIR: enabled, edgeExt: enabled,
		keepMM: enabled, keepPIR: enabled, keepExt: enabled,
	}
}

func TestStep_FirstRunEdgeOnly(t *testing.T) {
	fused, armed, changed := step(false, true, false, Sources{MMWave: true}, allGates(true))
	if !fused || armed || !changed {
		t.Fatalf("want fused=true armed=false changed=true, got fused=%v armed=%v changed=%v", fused, armed, changed)
	}
}

func TestStep_ClearToPresentOnEdgeSource(t *testing.T) {
	fused, armed, changed := step(false, false, false, Sources{PIR: true}, allGates(true))
	if !fused || armed || !changed {
		t.Fatalf("want a PIR edge to assert fused and clear triggerArmed, got fused=%v armed=%v changed=%v", fused, armed, changed)
	}
}

func TestStep_NoEdgeSourceStaysClear(t *testing.T) {
	fused, _, changed := step(false, false, false, Sources{}, allGates(true))
	if fused || changed {
		t.Fatalf("want no sources to leave fused=false changed=false, got fused=%v changed=%v", fused, changed)
	}
}

func TestStep_KeepSourceHoldsPresence(t *testing.T) {
	fused, armed, changed := step(true, false, false, Sources{MMWave: true}, allGates(true))
	if !fused || armed || changed {
		t.Fatalf("want keep source to hold presence unchanged, got fused=%v armed=%v changed=%v", fused, armed, changed)
	}
}

func TestStep_NoKeepSourceClearsAndArmsTrigger(t *testing.T) {
	fused, armed, changed := step(true, false, false, Sources{}, allGates(true))
	if fused || !armed || !changed {
		t.Fatalf("want presence to clear and triggerArmed to be set, got fused=%v armed=%v changed=%v", fused, armed, changed)
	}
}

func TestStep_DisabledSourceIsIgnored(t *testing.T) {
	g := gates{} // every source disabled
	fused, _, changed := step(false, false, false, Sources{MMWave: true, PIR: true, External: true}, g)
	if fused || changed {
		t.Fatalf("want all-disabled gates to never assert presence, got fused=%v changed=%v", fused, changed)
	}
}

func TestStep_TriggerArmedAllowsReDispatchWhilePresent(t *testing.T) {
	// Presence never cleared (fusedPrev=true) but a prior suppression cycle
	// left triggerArmed=true; a fresh edge source should re-fire.
	fused, armed, changed := step(true, false, true, Sources{MMWave: true}, allGates(true))
	if !fused || armed || !changed {
		t.Fatalf("want re-armed edge to fire again, got fused=%v armed=%v changed=%v", fused, armed, changed)
	}
}

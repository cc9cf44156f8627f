package dispatch

import (
	"context"

	"i4.energy/across/polectl/pole"
)

// CheckFaults samples the open-contact input of each pole. The first
// detection of a fault latches it, disables sensing on that pole and sends
// one bad-contact notice. Further samples change nothing until the latch is
// reset. Pending reset requests are applied first.
func (d *Dispatcher) CheckFaults(ctx context.Context) {
	if ids := d.takeResetRequests(); len(ids) > 0 {
		d.resetFaults(ctx, ids...)
	}

	for _, id := range pole.All {
		fault, err := d.bank.ReadFault(ctx, id)
		if err != nil {
			d.logger.Warn("read fault input failed", "pole", id.String(), "error", err)
			continue
		}

		var tripped bool
		d.update(id, func(s *pole.State) {
			s.Fault = fault
			tripped = fault && s.Latch.Trip()
		})
		if !tripped {
			continue
		}

		d.logger.Warn("open contact detected", "pole", id.String())
		if err := d.bank.SetSenseEnable(ctx, id, false); err != nil {
			d.logger.Error("disable sensing failed", "pole", id.String(), "error", err)
		} else {
			d.update(id, func(s *pole.State) { s.SenseEnabled = false })
		}
		d.push(ctx, d.endpoints.For(id).Bad, FaultPayload(id))
	}
}

// resetFaults clears the latches of ids, re-enables sensing and reports
// each pole that was actually latched as healthy again.
func (d *Dispatcher) resetFaults(ctx context.Context, ids ...pole.ID) {
	for _, id := range ids {
		var was bool
		d.update(id, func(s *pole.State) { was = s.Latch.Clear() })
		if !was {
			continue
		}
		d.logger.Info("fault latch reset", "pole", id.String())
		if err := d.bank.SetSenseEnable(ctx, id, true); err != nil {
			d.logger.Error("enable sensing failed", "pole", id.String(), "error", err)
			continue
		}
		d.update(id, func(s *pole.State) { s.SenseEnabled = true })
		d.push(ctx, d.endpoints.For(id).Status, PayloadTrue)
	}
}

package modem

import (
	"context"
	"fmt"

	"i4.energy/across/polectl/at"
)

// PushStatus posts payload to baseURL+endpoint through the modem's HTTP
// stack: open the GPRS bearer, start an HTTP session, upload the payload,
// issue the POST and terminate. The push is fire-and-forget; the server's
// answer is left in the buffer.
func (s *Session) PushStatus(ctx context.Context, endpoint, payload string) error {
	if err := s.beginIdle(ctx); err != nil {
		return err
	}
	defer s.endIdle()

	return s.run("push "+endpoint, s.pushSteps(endpoint, payload))
}

func (s *Session) pushSteps(endpoint, payload string) []Step {
	t := s.config.timing
	r := s.retries()
	window := int(t.HTTPDataWindow.Milliseconds())
	return []Step{
		{Name: "bearer-contype", Payload: at.CmdBearerContype, Delay: t.BearerStep, Expect: at.OK, Retries: r},
		{Name: "bearer-apn", Payload: fmt.Sprintf(at.CmdBearerAPN, s.config.apn), Delay: t.BearerStep, Expect: at.OK, Retries: r},
		// An already open bearer answers ERROR here, so it is never verified.
		{Name: "bearer-open", Payload: at.CmdBearerOpen, Delay: t.BearerOpen},
		{Name: "http-init", Payload: at.CmdHTTPInit, Delay: t.HTTPStep},
		{Name: "http-cid", Payload: at.CmdHTTPCid, Delay: t.HTTPStep, Expect: at.OK, Retries: r},
		{Name: "http-url", Payload: fmt.Sprintf(at.CmdHTTPURL, s.config.baseURL+endpoint), Delay: t.HTTPStep, Expect: at.OK, Retries: r},
		{Name: "http-data", Payload: fmt.Sprintf(at.CmdHTTPData, len(payload), window), Delay: t.HTTPStep, Expect: "DOWNLOAD", Retries: r},
		{Name: "payload", Payload: payload, Raw: true, Delay: t.HTTPStep},
		{Name: "http-action", Payload: at.CmdHTTPPost, Delay: t.HTTPAction, Expect: at.UrcHTTPAction},
		{Name: "http-term", Payload: at.CmdHTTPTerm, Delay: t.HTTPStep},
	}
}

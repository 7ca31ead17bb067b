package api

import (
	"github.com/samcharles93/kspan/internal/inference"
)

// DecodeRequest is the body of POST /v1/decode. Omitted fields take the
// server defaults.
type DecodeRequest struct {
	Inputs         [][]int  `json:"inputs"`
	Method         *string  `json:"method,omitempty"`
	BeamWidth      *int     `json:"beam_width,omitempty"`
	CandidateWidth *int     `json:"candidate_width,omitempty"`
	SpanSize       *int     `json:"span_size,omitempty"`
	LengthPenalty  *float64 `json:"length_penalty,omitempty"`
	MaxLength      *int     `json:"max_length,omitempty"`
	MaxSteps       *int     `json:"max_steps,omitempty"`
	Strategy       *string  `json:"strategy,omitempty"`
	Stop           *string  `json:"stop,omitempty"`
	ReturnBeam     *bool    `json:"return_beam,omitempty"`
}

func (r DecodeRequest) options() inference.RequestOptions {
	return inference.RequestOptions{
		Inputs:         r.Inputs,
		Method:         r.Method,
		BeamWidth:      r.BeamWidth,
		CandidateWidth: r.CandidateWidth,
		SpanSize:       r.SpanSize,
		LengthPenalty:  r.LengthPenalty,
		MaxLength:      r.MaxLength,
		MaxSteps:       r.MaxSteps,
		Strategy:       r.Strategy,
		Stop:           r.Stop,
		ReturnBeam:     r.ReturnBeam,
	}
}

type DecodeResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created_at"`
	Method  string             `json:"method"`
	Outputs []inference.Output `json:"outputs"`
	Usage   DecodeUsage        `json:"usage"`
}

type DecodeUsage struct {
	Examples        int     `json:"examples"`
	Steps           int     `json:"steps"`
	DecoderCalls    int     `json:"decoder_calls"`
	Rows            int     `json:"rows"`
	Starved         int     `json:"starved"`
	TokensGenerated int     `json:"tokens_generated"`
	DurationMS      float64 `json:"duration_ms"`
}

func usageFromStats(s inference.Stats) DecodeUsage {
	return DecodeUsage{
		Examples:        s.Examples,
		Steps:           s.Steps,
		DecoderCalls:    s.DecoderCalls,
		Rows:            s.Rows,
		Starved:         s.Starved,
		TokensGenerated: s.TokensGenerated,
		DurationMS:      float64(s.Duration.Microseconds()) / 1000,
	}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

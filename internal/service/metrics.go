package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "design_server_generation_jobs_total",
		Help: "Generation and enhancement jobs by kind and outcome.",
	}, []string{"kind", "outcome"})

	creditsDebitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "design_server_credits_debited_total",
		Help: "Credits successfully debited from the ledger.",
	})

	debitRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "design_server_debit_rejections_total",
		Help: "Debits rejected by the ledger for insufficient balance.",
	})

	narrationPlaybacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "design_server_narration_playbacks_total",
		Help: "Narration playbacks by status.",
	}, []string{"status"})

	autosaveWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "design_server_autosave_writes_total",
		Help: "Debounced autosave writes flushed to the store.",
	})
)

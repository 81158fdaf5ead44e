// Package metrics содержит метрики Prometheus конвейера генерации.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scenesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyforge_scenes_total",
			Help: "Total number of scene attempts, partitioned by outcome (success/fallback).",
		},
		[]string{"outcome"},
	)
	sceneDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyforge_scene_duration_seconds",
			Help:    "Histogram of full scene (text + image) durations.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2.3h
		},
		[]string{"outcome"},
	)
	storiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyforge_stories_total",
			Help: "Total number of generated stories, partitioned by whether any scene fell back.",
		},
		[]string{"status"},
	)

	textRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyforge_text_requests_total",
			Help: "Total number of requests to the text generation backend.",
		},
		[]string{"model", "status"},
	)
	textRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyforge_text_request_duration_seconds",
			Help:    "Histogram of text generation request durations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"model"},
	)
	textTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyforge_text_tokens",
			Help:    "Histogram of prompt and completion token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20), // 250, 500, ..., 5000
		},
		[]string{"model", "kind"},
	)

	imageSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyforge_image_submissions_total",
			Help: "Total number of image jobs submitted to the image backend.",
		},
		[]string{"status"},
	)
	artifactPollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyforge_artifact_poll_duration_seconds",
			Help:    "Time from image submission until the artifact was found or polling gave up.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s .. ~17min
		},
		[]string{"outcome"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyforge_jobs_total",
			Help: "Total number of asynchronous story jobs by terminal status.",
		},
		[]string{"status"},
	)
	queueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyforge_queue_messages_total",
			Help: "Total number of story task messages consumed from the queue, by result.",
		},
		[]string{"result"},
	)
)

// RecordScene учитывает одну попытку сцены.
func RecordScene(fallback bool, d time.Duration) {
	outcome := "success"
	if fallback {
		outcome = "fallback"
	}
	scenesTotal.WithLabelValues(outcome).Inc()
	sceneDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordStory учитывает готовую историю.
func RecordStory(failedScenes int) {
	status := "complete"
	if failedScenes > 0 {
		status = "degraded"
	}
	storiesTotal.WithLabelValues(status).Inc()
}

// RecordTextRequest учитывает запрос к текстовому бэкенду.
func RecordTextRequest(model, status string, d time.Duration) {
	textRequestsTotal.WithLabelValues(model, status).Inc()
	if status == "success" {
		textRequestDuration.WithLabelValues(model).Observe(d.Seconds())
	}
}

// RecordTextTokens учитывает число токенов запроса и ответа.
func RecordTextTokens(model string, prompt, completion int) {
	if prompt > 0 {
		textTokens.WithLabelValues(model, "prompt").Observe(float64(prompt))
	}
	if completion > 0 {
		textTokens.WithLabelValues(model, "completion").Observe(float64(completion))
	}
}

// RecordImageSubmission учитывает отправку задачи изображения.
func RecordImageSubmission(status string) {
	imageSubmissionsTotal.WithLabelValues(status).Inc()
}

// RecordArtifactPoll учитывает длительность ожидания артефакта.
func RecordArtifactPoll(outcome string, d time.Duration) {
	artifactPollDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordJob учитывает завершение асинхронной задачи.
func RecordJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// RecordQueueMessage учитывает обработку сообщения из очереди.
func RecordQueueMessage(result string) {
	queueMessagesTotal.WithLabelValues(result).Inc()
}

// RegisterGauge регистрирует GaugeFunc, например занятость Admission Gate.
func RegisterGauge(name, help string, fn func() float64) error {
	return prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

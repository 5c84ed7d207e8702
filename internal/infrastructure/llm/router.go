package llm

import (
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
)

// Router picks the LLM backend per task. Extraction and answering go to
// the cloud model when one is configured, otherwise to the local model.
// Assign overrides the choice for a single task.
type Router struct {
	localClient repository.LLMClient
	cloudClient repository.LLMClient
	assigned    map[repository.TaskType]repository.LLMClient
}

// NewRouter initializes the LLM router. cloud may be nil for local-only
// operation.
func NewRouter(local, cloud repository.LLMClient) *Router {
	return &Router{
		localClient: local,
		cloudClient: cloud,
		assigned:    make(map[repository.TaskType]repository.LLMClient),
	}
}

// Assign routes task to client. It must be called before the router is
// shared between goroutines.
func (r *Router) Assign(task repository.TaskType, client repository.LLMClient) *Router {
	if client != nil {
		r.assigned[task] = client
	}
	return r
}

// RouteLLMTask returns the client for task.
func (r *Router) RouteLLMTask(task repository.TaskType) repository.LLMClient {
	selected, ok := r.assigned[task]
	if !ok {
		selected = r.localClient
		switch task {
		case repository.TaskEntityExtraction, repository.TaskAnswerGeneration:
			if r.cloudClient != nil {
				selected = r.cloudClient
			}
		}
	}

	if selected != nil {
		logger.Debug("routing task", "task", task, "client", selected.Name())
	}
	return selected
}

package app

// TopicManagerDocumentationProvider defines the contract for retrieving documentation
// for a topic manager.
type TopicManagerDocumentationProvider interface {
	GetDocumentationForTopicManager(topicManager string) (string, error)
}

// LookupServiceDocumentationProvider defines the contract for retrieving documentation
// for a lookup service provider.
type LookupServiceDocumentationProvider interface {
	GetDocumentationForLookupServiceProvider(lookupServiceName string) (string, error)
}

// TopicManagerDocumentationService provides functionality for retrieving topic manager documentation.
type TopicManagerDocumentationService struct {
	provider TopicManagerDocumentationProvider
}

// GetDocumentation retrieves the markdown documentation of a topic manager.
func (s *TopicManagerDocumentationService) GetDocumentation(topicManager string) (string, error) {
	if topicManager == "" {
		return "", NewEmptyServiceNameError("manager")
	}

	documentation, err := s.provider.GetDocumentationForTopicManager(topicManager)
	if err != nil {
		return "", NewEngineError(err, "Unable to retrieve documentation for topic manager due to an internal error. Please try again later or contact the support team.")
	}
	return documentation, nil
}

// NewTopicManagerDocumentationService creates a new TopicManagerDocumentationService.
// Panics if the provider is nil.
func NewTopicManagerDocumentationService(provider TopicManagerDocumentationProvider) *TopicManagerDocumentationService {
	if provider == nil {
		panic("topic manager documentation provider cannot be nil")
	}
	return &TopicManagerDocumentationService{provider: provider}
}

// LookupDocumentationService provides functionality for retrieving lookup service provider documentation.
type LookupDocumentationService struct {
	provider LookupServiceDocumentationProvider
}

// GetDocumentation retrieves the markdown documentation of a lookup service.
func (s *LookupDocumentationService) GetDocumentation(lookupServiceName string) (string, error) {
	if lookupServiceName == "" {
		return "", NewEmptyServiceNameError("lookupService")
	}

	documentation, err := s.provider.GetDocumentationForLookupServiceProvider(lookupServiceName)
	if err != nil {
		return "", NewEngineError(err, "Unable to retrieve documentation for lookup service provider due to an internal error. Please try again later or contact the support team.")
	}
	return documentation, nil
}

// NewLookupDocumentationService creates a new LookupDocumentationService with the given provider.
// Panics if the provider is nil.
func NewLookupDocumentationService(provider LookupServiceDocumentationProvider) *LookupDocumentationService {
	if provider == nil {
		panic("lookup service provider documentation provider cannot be nil")
	}
	return &LookupDocumentationService{provider: provider}
}

// NewEmptyServiceNameError returns an Error indicating that the query parameter naming the service is empty.
func NewEmptyServiceNameError(param string) Error {
	return Error{
		errorType: ErrorTypeIncorrectInput,
		err:       param + " query parameter cannot be empty",
		slug:      "A valid " + param + " must be provided to retrieve documentation.",
	}
}

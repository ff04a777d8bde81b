package app

import "github.com/bsv-blockchain/go-sdk/overlay"

// ServiceMetadataDTO describes one hosted topic manager or lookup service.
type ServiceMetadataDTO struct {
	Name             string `json:"name"`
	ShortDescription string `json:"shortDescription"`
	IconURL          string `json:"iconURL,omitempty"`
	Version          string `json:"version,omitempty"`
	InformationURL   string `json:"informationURL,omitempty"`
}

// MetadataDTO maps service names to their metadata.
type MetadataDTO map[string]ServiceMetadataDTO

const noDescription = "No description available"

func newMetadataDTO(services map[string]*overlay.MetaData) MetadataDTO {
	dto := make(MetadataDTO, len(services))
	for name, metadata := range services {
		item := ServiceMetadataDTO{Name: name, ShortDescription: noDescription}
		if metadata != nil {
			if metadata.Name != "" {
				item.Name = metadata.Name
			}
			if metadata.Description != "" {
				item.ShortDescription = metadata.Description
			}
			item.IconURL = metadata.Icon
			item.Version = metadata.Version
			item.InformationURL = metadata.InfoUrl
		}
		dto[name] = item
	}
	return dto
}

// TopicManagersListProvider defines the interface for retrieving
// metadata about hosted topic managers.
type TopicManagersListProvider interface {
	ListTopicManagers() map[string]*overlay.MetaData
}

// TopicManagersListService formats topic manager metadata for API exposure.
type TopicManagersListService struct {
	provider TopicManagersListProvider
}

func (s *TopicManagersListService) ListTopicManagers() MetadataDTO {
	return newMetadataDTO(s.provider.ListTopicManagers())
}

// NewTopicManagersListService creates a new TopicManagersListService.
// It panics if the provider is nil.
func NewTopicManagersListService(provider TopicManagersListProvider) *TopicManagersListService {
	if provider == nil {
		panic("topic manager list provider is nil")
	}
	return &TopicManagersListService{provider: provider}
}

// LookupListProvider defines the interface for retrieving
// metadata about hosted lookup services.
type LookupListProvider interface {
	ListLookupServiceProviders() map[string]*overlay.MetaData
}

// LookupListService formats lookup service metadata for API exposure.
type LookupListService struct {
	provider LookupListProvider
}

func (s *LookupListService) ListLookupServiceProviders() MetadataDTO {
	return newMetadataDTO(s.provider.ListLookupServiceProviders())
}

// NewLookupListService creates a new LookupListService.
// It panics if the provider is nil.
func NewLookupListService(provider LookupListProvider) *LookupListService {
	if provider == nil {
		panic("lookup list provider is nil")
	}
	return &LookupListService{provider: provider}
}

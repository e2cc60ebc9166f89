package nps

import (
	"math"
	"sort"

	"nps/api/internal/store"
)

// Obligation is one organization the requester must give feedback about.
type Obligation struct {
	OrganizationID string
	WitnessType    string
	ProjectTypes   []string
	Questions      []string
}

func (o Obligation) appliesTo(projectType ProjectType) bool {
	return store.Witness{ProjectTypes: o.ProjectTypes}.AppliesTo(string(projectType))
}

// projectGraph indexes the organizations present among a project's members.
type projectGraph struct {
	orgMembers    map[string][]string
	typeOrgs      map[string][]string
	organizations map[string]store.Organization
	users         map[string]store.User
}

// buildProjectGraph walks members in project order, once per member id.
// Members without an organization, or whose organization is unknown,
// contribute nothing.
func buildProjectGraph(members []string, users []store.User, organizations []store.Organization) projectGraph {
	graph := projectGraph{
		orgMembers:    map[string][]string{},
		typeOrgs:      map[string][]string{},
		organizations: make(map[string]store.Organization, len(organizations)),
		users:         make(map[string]store.User, len(users)),
	}
	for _, user := range users {
		graph.users[user.ID] = user
	}
	for _, org := range organizations {
		graph.organizations[org.ID] = org
	}

	orgOrder := make([]string, 0)
	walked := make(map[string]struct{}, len(members))
	for _, memberID := range members {
		if _, dup := walked[memberID]; dup {
			continue
		}
		walked[memberID] = struct{}{}
		user, ok := graph.users[memberID]
		if !ok || user.OrganizationID == nil || *user.OrganizationID == "" {
			continue
		}
		orgID := *user.OrganizationID
		if _, seen := graph.orgMembers[orgID]; !seen {
			orgOrder = append(orgOrder, orgID)
		}
		graph.orgMembers[orgID] = append(graph.orgMembers[orgID], memberID)
	}

	for _, orgID := range orgOrder {
		org, ok := graph.organizations[orgID]
		if !ok {
			continue
		}
		for _, typeID := range org.OrganizationTypeIDs {
			graph.typeOrgs[typeID] = append(graph.typeOrgs[typeID], orgID)
		}
	}
	return graph
}

// memberOrganizationIDs lists the distinct organizations of the given users
// in member order.
func memberOrganizationIDs(members []string, users []store.User) []string {
	byID := make(map[string]store.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	seen := map[string]struct{}{}
	ids := make([]string, 0)
	for _, memberID := range members {
		user, ok := byID[memberID]
		if !ok || user.OrganizationID == nil || *user.OrganizationID == "" {
			continue
		}
		if _, dup := seen[*user.OrganizationID]; dup {
			continue
		}
		seen[*user.OrganizationID] = struct{}{}
		ids = append(ids, *user.OrganizationID)
	}
	return ids
}

// presentWitnesses drops witness types no member organization belongs to.
func (g projectGraph) presentWitnesses(witnesses []store.Witness) []store.Witness {
	present := make([]store.Witness, 0, len(witnesses))
	for _, witness := range witnesses {
		if len(g.typeOrgs[witness.Type]) > 0 {
			present = append(present, witness)
		}
	}
	return present
}

// rankWitnesses orders witnesses by the priority of the map row whose
// respondent type equals the witness type. Types without a row go last.
func rankWitnesses(witnesses []store.Witness, maps []store.RespondentQuestionsMap) []store.Witness {
	priorities := make(map[string]int, len(maps))
	for _, row := range maps {
		priorities[row.RespondentType] = row.Priority
	}
	priorityOf := func(witnessType string) int {
		if priority, ok := priorities[witnessType]; ok {
			return priority
		}
		return math.MaxInt
	}

	ranked := append([]store.Witness(nil), witnesses...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return priorityOf(ranked[i].Type) < priorityOf(ranked[j].Type)
	})
	return ranked
}

// expand turns witness types into one obligation per present organization.
// An organization matched by several witness types is asked once, under the
// first type in ranked order.
func (g projectGraph) expand(witnesses []store.Witness) []Obligation {
	emitted := map[string]struct{}{}
	obligations := make([]Obligation, 0)
	for _, witness := range witnesses {
		for _, orgID := range g.typeOrgs[witness.Type] {
			if _, ok := emitted[orgID]; ok {
				continue
			}
			emitted[orgID] = struct{}{}
			obligations = append(obligations, Obligation{
				OrganizationID: orgID,
				WitnessType:    witness.Type,
				ProjectTypes:   witness.ProjectTypes,
				Questions:      witness.Questions,
			})
		}
	}
	return obligations
}

func witnessTypes(witnesses []store.Witness) []string {
	types := make([]string, 0, len(witnesses))
	for _, witness := range witnesses {
		types = append(types, witness.Type)
	}
	return types
}

// Package registrar drives the appchain registration and governance vote
// protocol between bridge agents and their relay node quorum.
package registrar

import (
	"fmt"
	"path"

	"github.com/JYBWOB/k8s-for-zj/configs"
)

const (
	relayCLI = "bitxhub"
	agentCLI = "pier"

	serviceType = "CallContract"
)

// Protocol renders the relay and agent CLI commands of one registration.
// repo is the agent repo path as seen inside its pod.
type Protocol struct {
	cfg  configs.Registration
	repo string
}

// AppchainRegistration describes the chain an agent registers on its relay.
type AppchainRegistration struct {
	ID        string
	Name      string
	Type      string
	Trustroot string
	Broker    string
	Admin     string
}

func NewProtocol(cfg configs.Registration, repo string) Protocol {
	return Protocol{cfg: cfg, repo: repo}
}

// ProposalID names the n-th governance proposal raised by identity.
func ProposalID(identity string, n int) string {
	return fmt.Sprintf("%s-%d", identity, n)
}

func (p Protocol) Identity() []string {
	return []string{relayCLI, "key", "show", "--path", path.Join(p.repo, "key.json")}
}

func (p Protocol) Fund(to string) []string {
	return []string{relayCLI, "client", "transfer", "--key", p.cfg.FundKey, "--to", to, "--amount", p.cfg.FundAmount}
}

func (p Protocol) RegisterAppchain(reg AppchainRegistration) []string {
	return []string{
		agentCLI, "--repo", p.repo, "appchain", "register",
		"--appchain-id", reg.ID,
		"--name", reg.Name,
		"--type", reg.Type,
		"--trustroot", reg.Trustroot,
		"--broker", reg.Broker,
		"--desc", "desc",
		"--master-rule", p.cfg.MasterRule,
		"--rule-url", p.cfg.RuleURL,
		"--admin", reg.Admin,
		"--reason", "reason",
	}
}

func (p Protocol) RegisterService(appchainID, serviceID, name string) []string {
	return []string{
		agentCLI, "--repo", p.repo, "appchain", "service", "register",
		"--appchain-id", appchainID,
		"--service-id", serviceID,
		"--name", name,
		"--intro", "",
		"--type", serviceType,
		"--permit", "",
		"--details", "test",
		"--reason", "reason",
	}
}

// Votes returns one approval per quorum repo for proposalID.
func (p Protocol) Votes(proposalID string) [][]string {
	votes := make([][]string, 0, len(p.cfg.QuorumRepos))
	for _, repo := range p.cfg.QuorumRepos {
		votes = append(votes, []string{
			relayCLI, "--repo", repo, "client", "governance", "vote",
			"--id", proposalID, "--info", "approve", "--reason", "approve",
		})
	}
	return votes
}
